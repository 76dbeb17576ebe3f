package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/wavelength/internal/attachment"
	"github.com/1ureka/wavelength/internal/config"
	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
	"github.com/1ureka/wavelength/internal/util"
	"github.com/1ureka/wavelength/internal/wavelength"
)

// ClientOptions describes one chat session.
type ClientOptions struct {
	Address   string
	Port      int
	Name      string
	Frequency protocol.Frequency
	SaveDir   string // received attachments are written here when set

	In  io.Reader // chat lines and commands
	Out io.Writer // rendered envelopes
}

// errQuit ends a session on /quit or end of input.
var errQuit = errors.New("quit")

const clientHelp = `commands:
  /freq <30~300>   tune in to another frequency
  /leave           tune out without disconnecting
  /attach <path>   send a file to the frequency
  /ping            measure the relay round trip
  /quit            leave
anything else is sent as a chat line`

// RunClient connects to a relay, tunes in and relays lines between In and
// the frequency until /quit, end of input, disconnect or ctx cancellation.
func RunClient(ctx context.Context, cfg *config.Config, opts ClientOptions) error {
	if err := opts.Frequency.Validate(); err != nil {
		return err
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	m := relay.NewManager(managerOptions(cfg))
	defer m.Close()

	util.LogInfo("connecting to %s ...", opts.Address)
	cl, err := wavelength.Dial(ctx, m, opts.Address, opts.Port, opts.Name)
	if err != nil {
		return err
	}
	defer cl.Close(true)
	util.LogSuccess("connected to %s", cl.Conn().Target())

	s := newSession(cfg, opts, cl)
	defer s.shutdown()

	if err := cl.Join(opts.Frequency); err != nil {
		return err
	}
	fmt.Fprintln(s.out, pterm.Gray(clientHelp))

	lines := make(chan string)
	go scanLines(opts.In, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readInput(gctx, lines) })
	g.Go(func() error { return s.readRelay(gctx) })

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scanLines feeds In to lines and closes it at end of input. The read
// cannot be interrupted, so this goroutine outlives a cancelled session
// until the next line or EOF.
func scanLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// session is the state shared by the input and relay loops.
type session struct {
	cl       *wavelength.Client
	pool     *attachment.Pool
	queue    *attachment.Queue
	maxBytes int64
	saveDir  string

	outMu sync.Mutex
	out   io.Writer

	pingMu   sync.Mutex
	pingSeq  int
	pingSent map[int]time.Time
}

func newSession(cfg *config.Config, opts ClientOptions, cl *wavelength.Client) *session {
	timeout := cfg.TaskTimeout()
	if timeout == 0 {
		timeout = -1
	}
	s := &session{
		cl:       cl,
		pool:     attachment.NewPool(cfg.Queue.PoolSize),
		maxBytes: cfg.Queue.MaxAttachmentBytes,
		saveDir:  opts.SaveDir,
		out:      opts.Out,
		pingSent: make(map[int]time.Time),
	}
	s.queue = attachment.NewQueue(s.pool, attachment.QueueOptions{
		TaskTimeout: timeout,
	})
	return s
}

// shutdown waits briefly for attachment work still in flight. Workers are
// only awaited when every task returned in time.
func (s *session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Shutdown(ctx); err != nil {
		util.LogWarning("attachment queue shutdown: %v", err)
		return
	}
	s.pool.Wait()
}

func (s *session) print(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, line)
}

func (s *session) readInput(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := s.command(strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

// command handles one input line. Only errQuit ends the session; other
// failures are reported and the session goes on.
func (s *session) command(line string) error {
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		s.print(pterm.Gray(clientHelp))
	case "/freq":
		var freq protocol.Frequency
		if freq, err = protocol.ParseFrequency(arg); err == nil {
			err = s.cl.Join(freq)
		}
	case "/leave":
		err = s.cl.Leave()
	case "/attach":
		err = s.attach(arg)
	case "/ping":
		err = s.ping()
	default:
		if strings.HasPrefix(name, "/") {
			err = fmt.Errorf("unknown command %s (try /help)", name)
		} else {
			err = s.cl.Say(line)
		}
	}
	if err != nil {
		util.LogWarning("%v", err)
	}
	return nil
}

// attach prepares path on the attachment queue and sends the result.
func (s *session) attach(path string) error {
	if path == "" {
		return errors.New("usage: /attach <path>")
	}
	freq := s.cl.Frequency()
	if freq == 0 {
		return wavelength.ErrNotTuned
	}
	task := s.queue.Submit(func(ctx context.Context) error {
		env, err := attachment.Prepare(ctx, path, freq, s.cl.Name(), s.maxBytes)
		if err != nil {
			return err
		}
		return s.cl.Send(env)
	})
	util.LogInfo("attachment %s queued [%s]", filepath.Base(path), util.ShortID(task.ID()))
	return nil
}

func (s *session) ping() error {
	s.pingMu.Lock()
	s.pingSeq++
	seq := s.pingSeq
	s.pingSent[seq] = time.Now()
	s.pingMu.Unlock()
	return s.cl.Ping(seq)
}

func (s *session) pong(env protocol.Envelope) string {
	var seq int
	if err := env.Decode("seq", &seq); err != nil {
		return render(env)
	}
	s.pingMu.Lock()
	sent, ok := s.pingSent[seq]
	delete(s.pingSent, seq)
	s.pingMu.Unlock()
	if !ok {
		return render(env)
	}
	return pterm.Gray(fmt.Sprintf("pong #%d in %s", seq, time.Since(sent).Round(time.Microsecond)))
}

func (s *session) readRelay(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.cl.Incoming():
			if !ok {
				return errors.New("relay closed the connection")
			}
			switch env.Type() {
			case protocol.TypePong:
				s.print(s.pong(env))
			case protocol.TypeAttachment:
				s.print(render(env))
				s.receive(env)
			default:
				s.print(render(env))
			}
		}
	}
}

// receive verifies an attachment and saves it on the queue when a save
// directory is configured.
func (s *session) receive(env protocol.Envelope) {
	if s.saveDir == "" {
		if _, err := attachment.Verify(env); err != nil {
			util.LogWarning("attachment from %s: %v", env.Text("from"), err)
		}
		return
	}
	s.queue.Submit(func(ctx context.Context) error {
		data, err := attachment.Verify(env)
		if err != nil {
			return err
		}
		dst, err := saveUnique(s.saveDir, env.Text("name"), data)
		if err != nil {
			return err
		}
		util.LogSuccess("saved %s", dst)
		return nil
	})
}

// maxSaveAttempts bounds the "name (n).ext" suffixes tried for one file.
const maxSaveAttempts = 1000

// saveUnique writes data under dir using the base of name, never replacing
// an existing file: on a collision a " (n)" suffix is added before the
// extension. It returns the path written.
func saveUnique(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		base = "attachment"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxSaveAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		dst := filepath.Join(dir, candidate)
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(dst)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(dst)
			return "", err
		}
		return dst, nil
	}
	return "", fmt.Errorf("save %s: too many files with that name in %s", base, dir)
}

// render formats an envelope for the terminal.
func render(env protocol.Envelope) string {
	switch env.Type() {
	case protocol.TypeMessage:
		return fmt.Sprintf("%s %s", pterm.Cyan("["+sender(env)+"]"), env.Text("text"))

	case protocol.TypeAttachment:
		var size int64
		_ = env.Decode("size", &size)
		return fmt.Sprintf("%s sent %s (%s)", pterm.Cyan("["+sender(env)+"]"),
			env.Text("name"), formatBytes(size))

	case protocol.TypeJoined:
		var peers []string
		_ = env.Decode("peers", &peers)
		line := "tuned in to " + frequencyText(env)
		if len(peers) > 0 {
			line += " with " + strings.Join(peers, ", ")
		}
		return pterm.Green(line)

	case protocol.TypePresence:
		verb := "tuned in to"
		if env.Text("event") == wavelength.PresenceLeave {
			verb = "left"
		}
		return pterm.Gray(fmt.Sprintf("* %s %s %s", env.Text("name"), verb, frequencyText(env)))

	case protocol.TypeError:
		return pterm.Red("relay: " + env.Text("reason"))

	default:
		data, err := protocol.Serialize(env)
		if err != nil {
			return env.Type()
		}
		return pterm.Gray(string(data))
	}
}

func sender(env protocol.Envelope) string {
	if from := env.Text("from"); from != "" {
		return from
	}
	return "anonymous"
}

func frequencyText(env protocol.Envelope) string {
	freq, err := protocol.FrequencyOf(env)
	if err != nil {
		return "an unknown frequency"
	}
	return freq.String() + " MHz"
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return strconv.FormatFloat(float64(n)/(1<<20), 'f', 1, 64) + " MiB"
	case n >= 1<<10:
		return strconv.FormatFloat(float64(n)/(1<<10), 'f', 1, 64) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}
