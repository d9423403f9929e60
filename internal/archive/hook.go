package archive

// TrimHook is an optional callback invoked when trims delete ranges.
type TrimHook interface {
	TrimmedRange(queue string, minSeq, maxSeq uint64)
}

type noopHook struct{}

func (noopHook) TrimmedRange(string, uint64, uint64) {}
