package msg

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar counts finished jobs out of Total. It is safe for use by
// several workers at once.
type ProgressBar struct {
	Total   int
	Current int
	Label   string
	Start   time.Time
	W       io.Writer

	mu         sync.Mutex
	lastPrint  time.Time
	throbIndex int
}

var throbbers = []rune{'|', '/', '-', '\\'}

func NewProgressBar(total int, label string, w io.Writer) *ProgressBar {
	return &ProgressBar{
		Total: total,
		Label: label,
		Start: time.Now(),
		W:     w,
	}
}

// Add marks n more jobs as finished.
func (pb *ProgressBar) Add(n int) {
	if pb == nil {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.Current += n
	if time.Since(pb.lastPrint) > 40*time.Millisecond || pb.Current >= pb.Total {
		pb.print(false)
		pb.lastPrint = time.Now()
	}
}

func (pb *ProgressBar) print(finish bool) {
	width := 40
	percent := float64(pb.Current) / float64(max(pb.Total, 1))
	if finish {
		percent = 1
	}

	filled := min(int(percent*float64(width)), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", width-filled)

	throb := throbbers[pb.throbIndex%len(throbbers)]
	pb.throbIndex++
	if finish {
		throb = ' '
	}

	fmt.Fprintf(pb.W, "\r%s %6.f%% [%s] %d/%d %c",
		pb.Label,
		percent*100,
		bar,
		pb.Current,
		pb.Total,
		throb,
	)
}

func (pb *ProgressBar) Finish() {
	if pb == nil {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.print(true)
	fmt.Fprintf(pb.W, " %s\n", time.Since(pb.Start).Round(time.Millisecond))
}
