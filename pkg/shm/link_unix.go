//go:build unix

package shm

// OpenLink maps the segment at segmentPath, claims it for names and opens
// the lock file at lockPath. It is the engine's side: a segment left with
// another layout is reformatted. Formatting happens under the lock so the
// driver never sees a half-written layout.
func OpenLink(segmentPath, lockPath string, names []string) (*Link, error) {
	seg, err := OpenMapped(segmentPath, SegmentSize(len(names)))
	if err != nil {
		return nil, err
	}
	return attach(seg, NewFileLock(lockPath), names, Claim)
}

// OpenExisting maps a segment some other process formatted and reads its
// layout.
func OpenExisting(segmentPath, lockPath string) (*Link, error) {
	seg, err := MapExisting(segmentPath, HeaderSize)
	if err != nil {
		return nil, err
	}
	n, _, err := readHeader(seg)
	seg.Close()
	if err != nil {
		return nil, err
	}

	seg, err = MapExisting(segmentPath, SegmentSize(n))
	if err != nil {
		return nil, err
	}
	t, err := Discover(seg)
	if err != nil {
		seg.Close()
		return nil, err
	}
	return &Link{Segment: seg, Table: t, Lock: NewFileLock(lockPath)}, nil
}
