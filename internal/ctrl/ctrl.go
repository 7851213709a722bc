// Package ctrl exposes the in-process query surface to operators over
// a unix-socket line protocol: one command per line, one human-readable
// reply line per command.
package ctrl

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Backend is the manager-facing surface the control plane queries.
type Backend interface {
	Set() *generator.Set
	Has(id resource.ID) bool
	IsReady(id resource.ID) bool
	URL(id resource.ID) (string, bool)
	UpdateResources() uint64
	UpdatedSince(token uint64) bool
}

// Server listens on a unix socket and answers one line per command.
type Server struct {
	backend Backend
	log     *slog.Logger
	ln      net.Listener
}

// Listen binds the socket, removing a stale file first.
func Listen(path string, backend Backend, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{backend: backend, log: log, ln: ln}, nil
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops the listener.
func (s *Server) Close() error { return s.ln.Close() }

// Addr returns the bound socket path.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := s.Dispatch(scanner.Text())
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

// Dispatch executes one command line and returns the reply line.
func (s *Server) Dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "error: empty command"
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "list-resources":
		return s.listResources()

	case "update-resources":
		return strconv.FormatUint(s.backend.UpdateResources(), 10)

	case "updated-since":
		if len(args) < 1 {
			return "error: updated-since needs a timestamp"
		}
		token, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return "error: bad timestamp"
		}
		if !s.backend.UpdatedSince(token) {
			return "false"
		}
		if len(args) >= 4 {
			id := resource.ID{ReferenceFrame: args[1], Group: args[2], Id: args[3]}
			if len(args) >= 5 && args[4] == "true" {
				return boolReply(s.backend.IsReady(id))
			}
			return boolReply(s.backend.Has(id))
		}
		return "true"

	case "has-resource":
		id, err := parseID(args)
		if err != nil {
			return "error: " + err.Error()
		}
		return boolReply(s.backend.Has(id))

	case "is-resource-ready":
		id, err := parseID(args)
		if err != nil {
			return "error: " + err.Error()
		}
		return boolReply(s.backend.IsReady(id))

	case "resource-url":
		id, err := parseID(args)
		if err != nil {
			return "error: " + err.Error()
		}
		url, ok := s.backend.URL(id)
		if !ok {
			return "error: no such resource"
		}
		return url

	case "supports-reference-frame":
		if len(args) != 1 {
			return "error: supports-reference-frame needs a frame name"
		}
		_, ok := frame.Get(args[0])
		return boolReply(ok)
	}
	return "error: unknown command " + cmd
}

func (s *Server) listResources() string {
	snap := s.backend.Set().Snapshot()
	ids := make([]resource.ID, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\t')
		}
		g := snap[id]
		fmt.Fprintf(&b, "%s:%s:%s:r%d", id, g.Resource().Gen, g.State(), g.Resource().Revision)
	}
	if b.Len() == 0 {
		return "(no resources)"
	}
	return b.String()
}

func parseID(args []string) (resource.ID, error) {
	if len(args) != 3 {
		return resource.ID{}, fmt.Errorf("expected: <referenceFrame> <group> <id>")
	}
	return resource.ID{ReferenceFrame: args[0], Group: args[1], Id: args[2]}, nil
}

func boolReply(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
