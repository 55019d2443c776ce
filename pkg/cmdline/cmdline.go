// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmdline implements the command-line merge rule of spec.md §4.2:
// two ordered argument lists are parsed into name-keyed ordered mappings and
// merged so that a test overlay can replace, unset or remove a specific
// flag without disturbing the position of unrelated ones. Grounded on the
// teacher's server/config.go flag-adjustment pass, generalized from a fixed
// struct of named flags to an arbitrary ordered name->values mapping since
// the supervised server refuses unknown config keys and this harness does
// not know its flag surface ahead of time.
package cmdline

import "strings"

// Remove is the sentinel value that deletes a name from the base list when
// it appears as the override's value.
const Remove = "__remove__"

// Missing is the sentinel value that turns a name's value into "unset" (a
// bare --name with no value) when it appears as the override's value.
const Missing = "__missing__"

// unset marks an argument recorded without a value, e.g. "--smp" alone.
const unset = "\x00unset\x00"

type entry struct {
	name   string
	dashes string
	values []string
}

// splitDashes separates a token's leading dashes from its name, so a
// single-dash flag like "-m" round-trips as single-dash instead of being
// garbled into "---m" by an emit that always assumes "--".
func splitDashes(tok string) (string, string) {
	switch {
	case strings.HasPrefix(tok, "--"):
		return "--", tok[2:]
	case strings.HasPrefix(tok, "-"):
		return "-", tok[1:]
	default:
		return "", tok
	}
}

func isFlagToken(tok string) bool {
	return strings.HasPrefix(tok, "-")
}

// parse turns an ordered list of "--name value"/"-name value",
// "--name=value" or bare "--name" tokens into an ordered, name-keyed list of
// entries. Repeated names accumulate additional values in the order they
// appear, matching the last merge specimen (repeated --experimental-features).
func parse(args []string) []entry {
	order := make([]string, 0, len(args))
	byName := make(map[string]*entry, len(args))

	add := func(dashes, name, value string) {
		e, ok := byName[name]
		if !ok {
			e = &entry{name: name, dashes: dashes}
			byName[name] = e
			order = append(order, name)
		}
		e.values = append(e.values, value)
	}

	i := 0
	for i < len(args) {
		tok := args[i]
		dashes, name := splitDashes(tok)
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			add(dashes, name[:eq], name[eq+1:])
			i++
			continue
		}
		// Bare "--name"/"-name" is followed by a value token unless it is
		// itself a flag (starts with a dash) or is the last token, in which
		// case the flag is recorded as unset.
		if i+1 < len(args) && !isFlagToken(args[i+1]) {
			add(dashes, name, args[i+1])
			i += 2
			continue
		}
		add(dashes, name, unset)
		i++
	}

	out := make([]entry, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

// emit flattens an ordered list of entries back into a flag token list,
// preserving each entry's original dash count and the "--name value" / bare
// "--name" token shapes.
func emit(entries []entry) []string {
	out := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		dashes := e.dashes
		if dashes == "" {
			dashes = "--"
		}
		for _, v := range e.values {
			if v == unset {
				out = append(out, dashes+e.name)
			} else {
				out = append(out, dashes+e.name, v)
			}
		}
	}
	return out
}

// Merge applies override onto base per spec.md §4.2 and §8's merge rule:
// names retain base insertion order, new names are appended, and an
// override value of Remove deletes the name while Missing turns it into a
// bare (unset) flag.
func Merge(base, override []string) []string {
	baseEntries := parse(base)
	overrideEntries := parse(override)

	index := make(map[string]int, len(baseEntries))
	merged := make([]entry, 0, len(baseEntries)+len(overrideEntries))
	for i, e := range baseEntries {
		index[e.name] = i
		merged = append(merged, e)
	}

	removed := make(map[string]bool, len(overrideEntries))

	for _, oe := range overrideEntries {
		values := normalize(oe.values)
		if i, ok := index[oe.name]; ok {
			if isRemove(oe.values) {
				removed[oe.name] = true
				continue
			}
			merged[i] = entry{name: oe.name, dashes: oe.dashes, values: values}
			continue
		}
		if isRemove(oe.values) {
			// Removing a name that was never in base is a no-op.
			continue
		}
		index[oe.name] = len(merged)
		merged = append(merged, entry{name: oe.name, dashes: oe.dashes, values: values})
	}

	if len(removed) == 0 {
		return emit(merged)
	}
	filtered := make([]entry, 0, len(merged))
	for _, e := range merged {
		if !removed[e.name] {
			filtered = append(filtered, e)
		}
	}
	return emit(filtered)
}

func isRemove(values []string) bool {
	return len(values) == 1 && values[0] == Remove
}

func normalize(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == Missing {
			out[i] = unset
		} else {
			out[i] = v
		}
	}
	return out
}
