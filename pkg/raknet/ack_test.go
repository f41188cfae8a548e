package raknet

import "testing"

func TestCoalesceSeqNumsMergesContiguousRuns(t *testing.T) {
	// sorted: 1 2 3 5 7 10 11 -> [1-3] [5] [7] [10-11]
	nums := []U24{5, 1, 2, 3, 10, 11, 7}
	a := CoalesceSeqNums(nums)
	want := []Record{
		{Kind: RecordRange, Start: 1, End: 3},
		{Kind: RecordSingle, Start: 5},
		{Kind: RecordSingle, Start: 7},
		{Kind: RecordRange, Start: 10, End: 11},
	}
	if len(a.Records) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(a.Records), len(want), a.Records)
	}
	for i, r := range want {
		if a.Records[i] != r {
			t.Errorf("record %d = %+v, want %+v", i, a.Records[i], r)
		}
	}
}

func TestCoalesceSeqNumsSingleValue(t *testing.T) {
	a := CoalesceSeqNums([]U24{42})
	if len(a.Records) != 1 || a.Records[0].Kind != RecordSingle || a.Records[0].Start != 42 {
		t.Fatalf("unexpected records: %+v", a.Records)
	}
}

func TestCoalesceSeqNumsEmpty(t *testing.T) {
	a := CoalesceSeqNums(nil)
	if len(a.Records) != 0 {
		t.Fatalf("expected no records, got %+v", a.Records)
	}
}

func TestAckOrNackEachCoversAllSeqNums(t *testing.T) {
	a := CoalesceSeqNums([]U24{1, 2, 3, 10})
	var got []U24
	a.Each(func(u U24) { got = append(got, u) })
	want := []U24{1, 2, 3, 10}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestChunkForMTUSplitsOnSize(t *testing.T) {
	records := []Record{
		{Kind: RecordSingle, Start: 1},
		{Kind: RecordSingle, Start: 2},
		{Kind: RecordSingle, Start: 3},
	}
	chunks := ChunkForMTU(records, 3+4) // header(3) + one record(4) per chunk
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
}
