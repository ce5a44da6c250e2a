package land

import "uas-mission/internal/props"

type NavMode int

const (
	NavOther NavMode = iota
	NavCircle
	NavRoute
)

func ParseNavMode(s string) NavMode {
	switch s {
	case "circle":
		return NavCircle
	case "route":
		return NavRoute
	default:
		return NavOther
	}
}

func (m NavMode) String() string {
	switch m {
	case NavCircle:
		return "circle"
	case NavRoute:
		return "route"
	default:
		return "other"
	}
}

func readNavMode(n props.Node) NavMode {
	return ParseNavMode(n.GetString("mode"))
}

func writeNavMode(n props.Node, m NavMode) {
	n.SetString("mode", m.String())
}
