package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Link is a directed edge between two switch ports
type Link struct {
	Src     SwitchId
	SrcPort uint32
	Dst     SwitchId
	DstPort uint32
}

func (l Link) String() string {
	return fmt.Sprintf("%s:%d->%d:%s", l.Src, l.SrcPort, l.DstPort, l.Dst)
}

func (l Link) SrcEnd() SwitchPort {
	return SwitchPort{l.Src, l.SrcPort}
}

func (l Link) DstEnd() SwitchPort {
	return SwitchPort{l.Dst, l.DstPort}
}

type RouteId struct {
	Src SwitchId
	Dst SwitchId
}

func (id RouteId) String() string {
	return fmt.Sprintf("%s->%s", id.Src, id.Dst)
}

// Route is an ordered sequence of links from Id.Src to Id.Dst.
// A route from a switch to itself has an empty path.
type Route struct {
	Id   RouteId
	Path []Link
}

func (r *Route) Len() int {
	return len(r.Path)
}

// Equal compares two routes structurally
func (r *Route) Equal(o *Route) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Id == o.Id && slices.Equal(r.Path, o.Path)
}

func (r *Route) String() string {
	if r == nil {
		return "(no route)"
	}
	sb := strings.Builder{}
	sb.WriteString(r.Id.String())
	sb.WriteString(" [")
	for i, l := range r.Path {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(l.String())
	}
	sb.WriteString("]")
	return sb.String()
}

func parseSwitchPort(s string) (SwitchPort, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, "/")
	if idx == -1 {
		return SwitchPort{}, fmt.Errorf("%q is not of the form <switch>/<port>", s)
	}
	id, err := ParseSwitchId(s[:idx])
	if err != nil {
		return SwitchPort{}, err
	}
	port, err := strconv.ParseUint(strings.TrimSpace(s[idx+1:]), 10, 32)
	if err != nil {
		return SwitchPort{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return SwitchPort{id, uint32(port)}, nil
}

/*
ParseLinks reads a link description of the form

	1/2 -> 2/1    a single directed link from port 2 of switch 1 to port 1 of switch 2
	1/2 <-> 2/1   both directions

Switches may be given as numbers or colon-separated datapath ids.
*/
func ParseLinks(s string) ([]Link, error) {
	bidir := strings.Contains(s, "<->")
	sep := "->"
	if bidir {
		sep = "<->"
	}
	spl := strings.Split(s, sep)
	if len(spl) != 2 {
		return nil, fmt.Errorf("invalid link %q: expected exactly one -> or <->", s)
	}
	src, err := parseSwitchPort(spl[0])
	if err != nil {
		return nil, err
	}
	dst, err := parseSwitchPort(spl[1])
	if err != nil {
		return nil, err
	}
	links := []Link{{src.Switch, src.Port, dst.Switch, dst.Port}}
	if bidir {
		links = append(links, Link{dst.Switch, dst.Port, src.Switch, src.Port})
	}
	return links, nil
}
