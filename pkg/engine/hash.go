package engine

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"adsweep/pkg/detect"
)

// contentHash digests every field detection can observe, so equal hashes
// imply equal detection results for the same keyword table.
func contentHash(snap detect.Snapshot) uint64 {
	d := xxhash.New()
	var num []byte
	for i := 0; i < snap.Len(); i++ {
		r := snap.Record(i)
		d.WriteString(r.Text)
		d.Write([]byte{0x1f})
		d.WriteString(r.Description)
		d.Write([]byte{0x1f})
		for _, v := range []int{r.Bounds.Left, r.Bounds.Top, r.Bounds.Right, r.Bounds.Bottom, len(r.Path)} {
			num = strconv.AppendInt(num[:0], int64(v), 10)
			num = append(num, ',')
			d.Write(num)
		}
		for _, v := range r.Path {
			num = strconv.AppendInt(num[:0], int64(v), 10)
			num = append(num, '/')
			d.Write(num)
		}
		if r.Actionable {
			d.Write([]byte{1})
		} else {
			d.Write([]byte{0})
		}
		d.Write([]byte{0x1e})
	}
	return d.Sum64()
}
