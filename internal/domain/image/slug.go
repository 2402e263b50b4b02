package image

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug folds a human readable name into a stable identifier: lowercase,
// diacritics removed, and every run of non-alphanumeric characters replaced
// by a single underscore. Leading and trailing underscores are dropped.
//
//	Slug("Waffle Clásico")   == "waffle_clasico"
//	Slug("  Oblea -- Doble") == "oblea_doble"
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// RefID returns the image id a store reference points at: the last path
// element without its extension. Both stores name objects that way.
//
//	RefID("/uploads/brownie.png")                          == "brownie"
//	RefID("https://res.cloudinary.com/x/upload/v1/f/a.jpg") == "a"
func RefID(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// UniqueID returns id when it is not taken, otherwise the first of id_2,
// id_3, ... that is free. An empty id is returned unchanged so the store can
// generate one.
func UniqueID(id string, taken map[string]struct{}) string {
	if id == "" {
		return ""
	}
	if _, ok := taken[id]; !ok {
		return id
	}
	for n := 2; ; n++ {
		candidate := id + "_" + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
