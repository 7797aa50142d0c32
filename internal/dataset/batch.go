package dataset

import "math/rand/v2"

// Record is one labelled feature vector.
type Record struct {
	Name   string
	Label  Label
	Vector []float64
}

// Batch is a shuffled set of claimed records.
type Batch struct {
	Records []Record
}

// Len returns the number of records.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Count returns how many records carry label.
func (b *Batch) Count(label Label) int {
	n := 0
	for _, r := range b.Records {
		if r.Label == label {
			n++
		}
	}
	return n
}

// Features returns the vectors in batch order. The slices are shared with
// the records.
func (b *Batch) Features() [][]float64 {
	out := make([][]float64, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Vector
	}
	return out
}

// Labels returns the class index of each record in batch order.
func (b *Batch) Labels() []int {
	out := make([]int, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Label.Index()
	}
	return out
}

// OneHot returns one row per record with a 1 in the record's class column.
func (b *Batch) OneHot() [][]float64 {
	out := make([][]float64, len(b.Records))
	for i, r := range b.Records {
		row := make([]float64, len(Labels))
		row[r.Label.Index()] = 1
		out[i] = row
	}
	return out
}

// shuffle is a Fisher–Yates shuffle over whole records, so vectors and labels
// move together.
func shuffle(rng *rand.Rand, records []Record) {
	for i := len(records) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		records[i], records[j] = records[j], records[i]
	}
}
