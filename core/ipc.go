package core

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/encodeous/nyflow/state"
)

// Admin serves inspect requests on a unix socket and optionally exposes metrics over http
type Admin struct {
	listener net.Listener
	metrics  *http.Server
}

func (a *Admin) Init(s *state.State) error {
	if s.AdminSocket != "" {
		if err := os.Remove(s.AdminSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		l, err := net.Listen("unix", s.AdminSocket)
		if err != nil {
			return fmt.Errorf("admin socket: %w", err)
		}
		a.listener = l
		go a.serve(s, l)
		s.Log.Debug("admin socket listening", "path", s.AdminSocket)
	}
	if s.MetricsAddr != "" {
		ln, err := net.Listen("tcp", s.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		a.metrics = &http.Server{Handler: http.DefaultServeMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Log.Error("metrics server stopped", "error", err)
			}
		}()
		s.Log.Info("serving metrics", "addr", ln.Addr(), "paths", []string{"/debug/vars", "/debug/metrics"})
	}
	return nil
}

func (a *Admin) serve(s *state.State, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.Log.Error("admin socket accept failed", "error", err)
			}
			return
		}
		go func() {
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
			rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
			if err := HandleIPCGet(s, rw); err != nil {
				s.Log.Debug("admin request failed", "error", err)
				return
			}
			_ = rw.Flush()
		}()
	}
}

func (a *Admin) Cleanup(s *state.State) error {
	var errs []error
	if a.listener != nil {
		errs = append(errs, a.listener.Close())
		_ = os.Remove(s.AdminSocket)
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// IPCGet asks a running controller for its inspect report
func IPCGet(socket string) (string, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	_, err = rw.WriteString("inspect\n")
	if err != nil {
		return "", err
	}
	err = rw.Flush()
	if err != nil {
		return "", err
	}

	res, err := rw.ReadString(0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSuffix(res, "\x00"), nil
}

func HandleIPCGet(s *state.State, rw *bufio.ReadWriter) error {
	cmd, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	switch cmd {
	case "inspect\n":
		res, err := s.DispatchWait(func(s *state.State) (any, error) {
			return inspect(s), nil
		})
		if err != nil {
			return err
		}
		_, err = rw.WriteString(res.(string))
		if err != nil {
			return err
		}
		return rw.WriteByte(0)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// inspect renders the controller state, it must run on the main loop
func inspect(s *state.State) string {
	sb := strings.Builder{}
	sw := Get[*Switches](s)

	sb.WriteString(fmt.Sprintf("Controller %s listening on %s\n", s.Id, sw.Controller.Addr()))

	sb.WriteString("\nSwitches:\n")
	switches := make([]state.Pair[state.SwitchId, string], 0, len(sw.connected))
	for id, c := range sw.connected {
		switches = append(switches, state.Pair[state.SwitchId, string]{V1: id, V2: fmt.Sprintf(" - %s from %s session %s up %s",
			id, c.sw.RemoteAddr(), c.sw.Session(), time.Since(c.readyAt).Truncate(time.Second))})
	}
	writePairs(&sb, switches)

	sb.WriteString("\nLinks:\n")
	rt := make([]string, 0)
	for _, l := range Get[*Topology](s).Links() {
		rt = append(rt, fmt.Sprintf(" - %s", l))
	}
	writeList(&sb, rt)

	engine := Get[*Routing](s).Engine
	sb.WriteString(fmt.Sprintf("\nRouting: %d nodes, %d cached routes\n", len(engine.Nodes()), engine.CacheLen()))

	if sw.Forwarding != nil {
		sb.WriteString("\nDevices:\n")
		devices := make([]state.Pair[string, string], 0)
		for mac, at := range sw.Forwarding.Devices().Devices() {
			devices = append(devices, state.Pair[string, string]{V1: mac, V2: fmt.Sprintf(" - %s at %s", mac, at)})
		}
		writePairs(&sb, devices)
	}
	if sw.Learning != nil {
		sb.WriteString("\nMAC tables:\n")
		tables := make([]state.Pair[state.SwitchId, string], 0)
		for id, n := range sw.Learning.TableSizes() {
			tables = append(tables, state.Pair[state.SwitchId, string]{V1: id, V2: fmt.Sprintf(" - %s: %d entries", id, n)})
		}
		writePairs(&sb, tables)
	}
	return sb.String()
}

func writeList(sb *strings.Builder, rt []string) {
	if len(rt) == 0 {
		sb.WriteString(" (none)\n")
		return
	}
	sb.WriteString(strings.Join(rt, "\n") + "\n")
}

// writePairs writes the V2 lines ordered by their V1 keys
func writePairs[K cmp.Ordered](sb *strings.Builder, rows []state.Pair[K, string]) {
	state.SortPairs(rows)
	rt := make([]string, 0, len(rows))
	for _, r := range rows {
		rt = append(rt, r.V2)
	}
	writeList(sb, rt)
}
