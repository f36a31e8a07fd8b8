/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector matches "tag", ".class" or "tag.class".
type selector struct {
	tag   string
	class string
}

func parseSelector(s string) (selector, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " >+~[]#:") {
		return selector{}, fmt.Errorf("unsupported selector %q", s)
	}
	tag, class, _ := strings.Cut(s, ".")
	if strings.Contains(class, ".") {
		return selector{}, fmt.Errorf("unsupported selector %q", s)
	}
	return selector{tag: strings.ToLower(tag), class: class}, nil
}

func (s selector) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.class == "" {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == s.class {
				return true
			}
		}
	}
	return false
}

// findAll returns matching descendants of root in document order. Matches
// are not searched for nested matches.
func findAll(root *html.Node, sel selector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.match(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, sel selector) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.match(c) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}
