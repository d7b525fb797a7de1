package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress 按固定间隔回调进度，Close 时再回调一次最终值
type Progress struct {
	Total      int64
	Current    atomic.Int64
	OnProgress func(current, total int64)

	interval time.Duration
	quit     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func New(total int64, interval time.Duration, onProgress func(current, total int64)) *Progress {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	p := Progress{
		Total:      total,
		OnProgress: onProgress,
		interval:   interval,
		quit:       make(chan struct{}),
	}
	if onProgress != nil {
		p.wg.Go(p.start)
	}
	return &p
}

func (p *Progress) Add(n int64) {
	p.Current.Add(n)
}

// Close 可重复调用，返回时最终回调已完成
func (p *Progress) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

func (p *Progress) start() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.OnProgress(p.Current.Load(), p.Total)
		case <-p.quit:
			p.OnProgress(p.Current.Load(), p.Total)
			return
		}
	}
}
