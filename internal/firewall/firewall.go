// Package firewall builds allow and revoke command templates for common
// firewall tools.
//
// The door itself only runs operator commands (see package action); this
// package supplies ready-made templates for iptables/ip6tables and nftables
// so `rknock init` can write a working config. Each template picks the IPv4
// or IPv6 variant of the tool at run time from the shape of {ip}.
package firewall

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/merlos/rknock/internal/action"
)

// PortRule is a port and protocol opened for an accepted knocker.
type PortRule struct {
	Port  uint16
	Proto string // "tcp" or "udp"
}

func (p PortRule) String() string {
	return fmt.Sprintf("%d/%s", p.Port, p.Proto)
}

// ParsePortRule parses "22/tcp" or "53/udp". A bare port means tcp.
func ParsePortRule(s string) (PortRule, error) {
	port, proto, found := strings.Cut(s, "/")
	if !found {
		proto = "tcp"
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return PortRule{}, fmt.Errorf("invalid port rule %q (expected e.g. 2222/tcp)", s)
	}
	if proto != "tcp" && proto != "udp" {
		return PortRule{}, fmt.Errorf("invalid port rule %q: protocol must be tcp or udp", s)
	}
	return PortRule{Port: uint16(n), Proto: proto}, nil
}

// Templates is a pair of action command templates.
type Templates struct {
	Allow  string
	Revoke string
}

// Backends lists the supported backend names.
var Backends = []string{"iptables", "nft"}

// ruleComment tags every rule rknock adds.
const ruleComment = "rknock"

// NewTemplates returns allow and revoke templates opening ports on backend
// ("iptables" or "nft").
func NewTemplates(backend string, ports []PortRule) (*Templates, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports to open")
	}
	switch backend {
	case "iptables":
		return ipTablesTemplates(ports), nil
	case "nft":
		return nfTablesTemplates(ports), nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q (use 'iptables' or 'nft')", backend)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// iptables backend
// ────────────────────────────────────────────────────────────────────────────

// ipTablesSelect sets $ipt to "ip6tables" for IPv6 and "iptables" for IPv4.
const ipTablesSelect = "case " + action.Placeholder + " in *:*) ipt=ip6tables ;; *) ipt=iptables ;; esac"

func ipTablesTemplates(ports []PortRule) *Templates {
	rule := func(op string, p PortRule) string {
		return fmt.Sprintf("$ipt %s INPUT -s %s -p %s --dport %d -j ACCEPT -m comment --comment %s",
			op, action.Placeholder, p.Proto, p.Port, ruleComment)
	}
	var allow, revoke []string
	for _, p := range ports {
		allow = append(allow, rule("-I", p))
		// A rule already gone must not stop the others from being removed.
		revoke = append(revoke, rule("-D", p)+" || true")
	}
	return &Templates{
		Allow:  ipTablesSelect + "; " + strings.Join(allow, " && "),
		Revoke: ipTablesSelect + "; " + strings.Join(revoke, "; "),
	}
}

// ────────────────────────────────────────────────────────────────────────────
// nftables backend
// ────────────────────────────────────────────────────────────────────────────

// nftChain is the chain, inside the "inet filter" table, that holds rknock
// rules. The operator hooks it into their input chain.
const nftChain = "rknock"

// nftSelect sets $fam to the nft address family of {ip}.
const nftSelect = "case " + action.Placeholder + " in *:*) fam=ip6 ;; *) fam=ip ;; esac"

func nfTablesTemplates(ports []PortRule) *Templates {
	ensure := fmt.Sprintf("nft add table inet filter && nft add chain inet filter %s", nftChain)

	var allow, revoke []string
	for _, p := range ports {
		allow = append(allow, fmt.Sprintf(
			`nft add rule inet filter %s $fam saddr %s %s dport %d accept comment \"%s\"`,
			nftChain, action.Placeholder, p.Proto, p.Port, ruleComment))
		// nft deletes rules by handle only, so look the handles up first.
		revoke = append(revoke, fmt.Sprintf(
			`nft -a list chain inet filter %s 2>/dev/null | grep 'saddr %s %s dport %d ' | `+
				`awk '{print $NF}' | xargs -r -I{} nft delete rule inet filter %s handle {}`,
			nftChain, action.Placeholder, p.Proto, p.Port, nftChain))
	}
	return &Templates{
		Allow:  nftSelect + "; " + ensure + " && " + strings.Join(allow, " && "),
		Revoke: strings.Join(revoke, "; "),
	}
}
