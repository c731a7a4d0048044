package main

import (
	"io"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"llmd/internal/download"
	"llmd/internal/events"
)

// progressBars renders one bar per download item from bus events.
type progressBars struct {
	p *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgressBars(w io.Writer) *progressBars {
	return &progressBars{
		p: mpb.New(
			mpb.WithOutput(w),
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
		bars: make(map[string]*mpb.Bar),
	}
}

// attach subscribes to every download event and returns the unsubscribe funcs.
func (pb *progressBars) attach(bus *events.Bus) []func() {
	unsub := make([]func(), 0, len(download.EventTypes))
	for _, t := range download.EventTypes {
		unsub = append(unsub, bus.Subscribe(string(t), pb.handle))
	}
	return unsub
}

func (pb *progressBars) handle(ev events.Event) {
	de, ok := ev.Payload.(download.Event)
	if !ok {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	for _, item := range de.Task.Items {
		bar := pb.barLocked(de.Task.ID, item)
		if item.Bytes > 0 {
			bar.SetTotal(item.Bytes, false)
		}
		if item.DownloadedBytes > 0 {
			bar.SetCurrent(item.DownloadedBytes)
		}
		switch de.Type {
		case download.EventSuccess:
			bar.SetTotal(-1, true)
		case download.EventStopped, download.EventError:
			bar.Abort(false)
		}
	}
}

func (pb *progressBars) barLocked(taskID string, item download.Item) *mpb.Bar {
	key := taskID + "/" + item.ID
	if bar, ok := pb.bars[key]; ok {
		return bar
	}
	bar := pb.p.AddBar(item.Bytes,
		mpb.PrependDecorators(
			decor.Name(item.ID, decor.WC{W: 40, C: decor.DindentRight}),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			decor.Name(" ] "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f"),
		),
	)
	pb.bars[key] = bar
	return bar
}

// wait finishes bars that never saw a terminal event and blocks until the
// last frame is rendered.
func (pb *progressBars) wait() {
	pb.mu.Lock()
	for _, bar := range pb.bars {
		if !bar.Completed() && !bar.Aborted() {
			bar.Abort(false)
		}
	}
	pb.mu.Unlock()
	pb.p.Wait()
}

// count is the number of bars created so far.
func (pb *progressBars) count() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return len(pb.bars)
}
