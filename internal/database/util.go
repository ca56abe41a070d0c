package database

// toCmdLine builds a command line from a command name and its
// already-[]byte arguments, the shape AddAof and the undo log expect.
func toCmdLine(name string, args ...[]byte) CmdLine {
	cmd := make(CmdLine, 0, len(args)+1)
	cmd = append(cmd, []byte(name))
	cmd = append(cmd, args...)
	return cmd
}

// toCmdLineS is toCmdLine for string arguments.
func toCmdLineS(name string, args ...string) CmdLine {
	cmd := make(CmdLine, 0, len(args)+1)
	cmd = append(cmd, []byte(name))
	for _, a := range args {
		cmd = append(cmd, []byte(a))
	}
	return cmd
}

// convertRange maps a possibly-negative [start, end] index pair onto a
// sequence of the given size, returning a half-open [begin, stop)
// range, or (-1, -1) if the range is empty after clamping. Matches the
// index rules LRANGE, GETRANGE and SUBSTR share: negative indexes
// count from the tail, out-of-bound indexes clamp, start > end after
// clamping means empty.
func convertRange(start, end, size int64) (int, int) {
	if size == 0 {
		return -1, -1
	}
	if start < 0 {
		start += size
		if start < 0 {
			start = 0
		}
	}
	if start >= size {
		return -1, -1
	}
	if end < 0 {
		end += size
		if end < 0 {
			return -1, -1
		}
	} else if end >= size {
		end = size - 1
	}
	if start > end {
		return -1, -1
	}
	return int(start), int(end + 1)
}
