package ingest

// RotateQueries picks perRun consecutive queries starting at a window chosen
// by hour, wrapping around the list. perRun <= 0 or >= len(all) returns all.
func RotateQueries(all []string, hour, perRun int) []string {
	if perRun <= 0 || perRun >= len(all) {
		return append([]string(nil), all...)
	}
	if hour < 0 {
		hour = -hour
	}
	start := (hour * perRun) % len(all)
	out := make([]string, 0, perRun)
	for i := 0; i < perRun; i++ {
		out = append(out, all[(start+i)%len(all)])
	}
	return out
}
