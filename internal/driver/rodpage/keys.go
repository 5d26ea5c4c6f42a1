package rodpage

import (
	"fmt"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/input"
)

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
}

var modifierKeys = map[string]input.Key{
	"control": input.ControlLeft,
	"ctrl":    input.ControlLeft,
	"shift":   input.ShiftLeft,
	"alt":     input.AltLeft,
	"meta":    input.MetaLeft,
}

// parseChord splits "Modifier+...+Key" into held modifiers and the main key.
// "ControlOrMeta" picks the platform's usual shortcut modifier.
func parseChord(chord string) (mods []input.Key, main input.Key, err error) {
	parts := strings.Split(chord, "+")
	for i, part := range parts {
		last := i == len(parts)-1
		lower := strings.ToLower(strings.TrimSpace(part))
		if !last {
			if lower == "controlormeta" {
				mods = append(mods, platformShortcutKey())
				continue
			}
			m, ok := modifierKeys[lower]
			if !ok {
				return nil, 0, fmt.Errorf("unknown modifier %q in %q", part, chord)
			}
			mods = append(mods, m)
			continue
		}
		if k, ok := namedKeys[lower]; ok {
			main = k
			continue
		}
		r, size := utf8.DecodeRuneInString(part)
		if size == 0 || size != len(part) {
			return nil, 0, fmt.Errorf("unknown key %q in %q", part, chord)
		}
		main = input.Key(r)
	}
	if main == 0 {
		return nil, 0, fmt.Errorf("empty key chord %q", chord)
	}
	return mods, main, nil
}

func platformShortcutKey() input.Key {
	if runtime.GOOS == "darwin" {
		return input.MetaLeft
	}
	return input.ControlLeft
}
