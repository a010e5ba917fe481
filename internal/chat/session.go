package chat

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
)

// Server -> client lines. These are wire contracts; tests and deployed
// clients match them byte for byte.
const (
	msgNamePrompt    = "Please, insert your name: "
	msgWhisperUsage  = "Correct use: /w <name> <message>"
	msgListHeader    = "Connected users: "
	msgRenamePrompt  = "Type your name: "
	msgRenameConfirm = "New username: "
)

var helpLines = []string{
	" /w - Sends a private message for a specific user.",
	" /h - Show available commands.",
	" /c - Changes the username.",
	" /l - Lists all connected users.",
	" /q - Leaves the chat.",
}

// HandleConn serves one client connection until the client quits, the
// stream ends, or the connection is force-closed during shutdown.
func HandleConn(registry *Registry, conn net.Conn, sendBuffer int, log *slog.Logger) {
	connectionsTotal.Inc()
	newSession(registry, conn, sendBuffer, log).run()
}

// session walks one connection through Unnamed -> Named/Active -> Closed.
// The connection and writer are owned exclusively by this session; other
// sessions reach it only through the registry's delivery queue.
type session struct {
	registry *Registry
	conn     net.Conn
	scanner  *bufio.Scanner
	writer   *sessionWriter
	log      *slog.Logger

	sendBuffer int
	client     *Client

	workers sync.WaitGroup
	cleanup sync.Once
}

// maxLineBytes bounds one inbound line. Lines beyond the bound end the
// session as an implicit quit.
const maxLineBytes = 1 << 20

func newSession(registry *Registry, conn net.Conn, sendBuffer int, log *slog.Logger) *session {
	if log == nil {
		log = slog.Default()
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &session{
		registry:   registry,
		conn:       conn,
		scanner:    scanner,
		writer:     newSessionWriter(conn),
		log:        log,
		sendBuffer: sendBuffer,
	}
}

func (s *session) run() {
	defer s.cleanupSession()

	if err := s.handshake(); err != nil {
		if !isDisconnect(err) {
			s.log.Debug("handshake failed", "remote", s.conn.RemoteAddr(), "error", err)
		}
		return
	}

	s.serveLoop()
}

// handshake collects the display name and registers the session. A client
// that disconnects before sending a name is never registered and nobody is
// notified about it.
func (s *session) handshake() error {
	if err := s.writer.writeLine(msgNamePrompt); err != nil {
		return err
	}

	name, err := s.readLine()
	if err != nil {
		return err
	}

	s.client = newClient(name, s.conn, s.sendBuffer)
	if err := s.writer.writeLine("Welcome " + name + "! You are connected. \n Type /h to see a list of available commands. \n"); err != nil {
		return err
	}

	s.registry.Add(s.client)
	s.startDeliveryRelay()

	s.log.Info("client joined", "id", s.client.ID, "name", name, "remote", s.conn.RemoteAddr())
	return nil
}

// serveLoop reads lines until an explicit quit or the stream ends. Every
// read error is an implicit quit; it never propagates past this session.
func (s *session) serveLoop() {
	for {
		line, err := s.readLine()
		if err != nil {
			if !isDisconnect(err) {
				s.log.Debug("read failed", "name", s.client.Name(), "error", err)
			}
			return
		}
		if !s.dispatch(line) {
			return
		}
	}
}

// dispatch interprets one line. It reports false when the session should
// stop serving.
func (s *session) dispatch(line string) bool {
	switch classify(line) {
	case cmdQuit:
		return false
	case cmdWhisper:
		s.handleWhisper(line)
	case cmdList:
		s.handleList()
	case cmdRename:
		return s.handleRename()
	case cmdHelp:
		s.handleHelp()
	default:
		s.registry.Broadcast(s.client.Name()+": "+line, s.client)
		messagesTotal.WithLabelValues("broadcast").Inc()
	}
	return true
}

func (s *session) handleWhisper(line string) {
	target, message, ok := parseWhisper(line)
	if !ok {
		s.reply(msgWhisperUsage)
		return
	}

	if !s.registry.Whisper(target, "[Whisper from "+s.client.Name()+"]: "+message) {
		s.reply("User " + target + "not found.")
		return
	}
	messagesTotal.WithLabelValues("whisper").Inc()
}

func (s *session) handleList() {
	s.reply(msgListHeader)
	for _, name := range s.registry.SnapshotNames() {
		s.reply("- " + name)
	}
}

// handleRename reads one extra line and overwrites the display name. There
// is no collision check; duplicates stay resolvable by registration order.
func (s *session) handleRename() bool {
	s.reply(msgRenamePrompt)

	name, err := s.readLine()
	if err != nil {
		return false
	}

	s.client.SetName(name)
	s.reply(msgRenameConfirm + name)
	return true
}

func (s *session) handleHelp() {
	for _, line := range helpLines {
		s.reply(line)
	}
}

// startDeliveryRelay drains the client's delivery queue onto the wire. The
// relay is the only goroutine besides the session itself that touches the
// writer; both go through the writer's mutex.
func (s *session) startDeliveryRelay() {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		for msg := range s.client.Send() {
			if err := s.writer.writeLine(msg); err != nil {
				return
			}
		}
	}()
}

// cleanupSession runs the termination sequence exactly once, no matter how
// many paths trigger it. Every step runs even if a prior one failed.
func (s *session) cleanupSession() {
	s.cleanup.Do(func() {
		if s.client != nil {
			s.registry.Remove(s.client)
			s.registry.Broadcast(s.client.Name()+" has left the chat.", s.client)
			s.log.Info("client left", "id", s.client.ID, "name", s.client.Name())
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("connection close", "error", err)
		}
		s.workers.Wait()
	})
}

func (s *session) readLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// reply writes a protocol line back to this session's own client. Reply
// failures mean the connection is on its way out; the read loop notices.
func (s *session) reply(line string) {
	if err := s.writer.writeLine(line); err != nil {
		s.log.Debug("reply dropped", "error", err)
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// sessionWriter serializes all writes to one connection.
type sessionWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func newSessionWriter(conn net.Conn) *sessionWriter {
	return &sessionWriter{conn: conn}
}

func (w *sessionWriter) writeLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := io.WriteString(w.conn, line+"\n")
	return err
}
