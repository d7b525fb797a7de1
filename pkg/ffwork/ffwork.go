// Package ffwork 管理 ffmpeg/ffprobe 子进程的输入输出与日志
package ffwork

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// ErrNotStarted 进程尚未启动
var ErrNotStarted = errors.New("ffmpeg process not started")

type (
	Config struct {
		// Bin 可执行文件，默认 ffmpeg
		Bin  string
		Args []string
		Name string
		// Stdin 为 true 时可通过 Write 向进程写入数据
		Stdin bool
		// Stdout 为 true 时可通过 Stdout 读取进程输出
		Stdout bool
		// KillTimeout Stop 等待进程退出的时间
		KillTimeout time.Duration
	}
	Process struct {
		Name      string
		config    Config
		ctx       context.Context
		cancel    context.CancelFunc
		m         sync.Mutex
		started   atomic.Bool
		exited    atomic.Bool
		waitOnce  sync.Once
		waitErr   error
		cmd       *exec.Cmd
		stdin     io.WriteCloser
		stdout    io.ReadCloser
		startedAt time.Time
		wg        sync.WaitGroup
		ffmpegLog *queue.CirQueue[string]
		bytesIn   atomic.Uint64
	}
	Stats struct {
		Name      string
		BytesIn   uint64
		StartedAt time.Time
		IsRunning bool
	}
	// ExitError 进程异常退出，附带 stderr 最后几行
	ExitError struct {
		Name string
		Err  error
		Log  []string
	}
)

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Name, e.Err)
	if n := len(e.Log); n > 0 {
		msg += ": " + strings.Join(e.Log[max(0, n-3):], "; ")
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func New(ctx context.Context, cfg Config) *Process {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Bin
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Process{
		Name:      cfg.Name,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		ffmpegLog: queue.NewCirQueue[string](100),
	}
}

// Available 可执行文件是否存在于 PATH
func Available(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

func (p *Process) Start() error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.started.Load() {
		return fmt.Errorf("%s already started", p.Name)
	}

	p.cmd = exec.CommandContext(p.ctx, p.config.Bin, p.config.Args...)
	p.cmd.WaitDelay = p.config.KillTimeout
	var err error
	if p.config.Stdin {
		if p.stdin, err = p.cmd.StdinPipe(); err != nil {
			return fmt.Errorf("failed to get stdin pipe: %w", err)
		}
	}
	if p.config.Stdout {
		if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("failed to get stdout pipe: %w", err)
		}
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.config.Bin, err)
	}
	p.startedAt = time.Now()
	p.started.Store(true)

	p.wg.Go(func() { p.readStderr(stderr) })
	return nil
}

// readStderr 读取 stderr 输出用于日志记录
// ffmpeg 的警告和错误信息都会输出到 stderr
func (p *Process) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		p.ffmpegLog.Push(scan.Text())
	}
}

// Write 写入 stdin
func (p *Process) Write(b []byte) (int, error) {
	if p.stdin == nil {
		return 0, ErrNotStarted
	}
	n, err := p.stdin.Write(b)
	p.bytesIn.Add(uint64(n))
	if err != nil {
		return n, p.exitErr(err)
	}
	return n, nil
}

// Stdout 进程输出，需在 Wait 之前读完
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// CloseInput 关闭 stdin，进程读到 EOF 后收尾退出
func (p *Process) CloseInput() error {
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// Wait 等待进程退出，退出码非零时返回 *ExitError
func (p *Process) Wait() error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	p.waitOnce.Do(func() {
		p.wg.Wait()
		if err := p.cmd.Wait(); err != nil {
			p.waitErr = p.exitErr(err)
		}
		p.exited.Store(true)
		p.cancel()
	})
	return p.waitErr
}

func (p *Process) exitErr(err error) error {
	if cause := context.Cause(p.ctx); cause != nil {
		err = cause
	}
	return &ExitError{Name: p.Name, Err: err, Log: p.Log()}
}

// Stop 终止进程，等待时间超过 KillTimeout 时强制结束
func (p *Process) Stop() error {
	if !p.started.Load() {
		return nil
	}
	p.cancel()
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	err := p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Process) Log() []string {
	return p.ffmpegLog.Range()
}

func (p *Process) GetStats() Stats {
	p.m.Lock()
	defer p.m.Unlock()
	return Stats{
		Name:      p.Name,
		BytesIn:   p.bytesIn.Load(),
		StartedAt: p.startedAt,
		IsRunning: p.started.Load() && !p.exited.Load(),
	}
}

// Output 运行进程直到退出，返回全部 stdout
func Output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	p := New(ctx, Config{Bin: bin, Args: args, Stdout: true})
	if err := p.Start(); err != nil {
		return nil, err
	}
	b, rerr := io.ReadAll(p.Stdout())
	if err := p.Wait(); err != nil {
		return b, err
	}
	if rerr != nil {
		return b, &ExitError{Name: p.Name, Err: rerr, Log: p.Log()}
	}
	return b, nil
}

// Seconds 格式化为 ffmpeg 时间参数
func Seconds(d time.Duration) string {
	return fmt.Sprintf("%.6f", d.Seconds())
}
