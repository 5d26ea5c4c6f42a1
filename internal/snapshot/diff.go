package snapshot

// computeDiff compares two snapshots by ref. Because the ref table keeps an
// element's ref stable across captures within one navigation, a ref present
// on both sides is the same element, and attribute comparison is meaningful.
func computeDiff(prev, next *Snapshot) *Diff {
	d := &Diff{ToID: next.ID, URL: next.URL}
	if prev != nil {
		d.FromID = prev.ID
	}

	prevByRef := map[string]Element{}
	if prev != nil {
		for _, el := range prev.Elements {
			prevByRef[el.Ref] = el
		}
	}

	seen := make(map[string]bool, len(next.Elements))
	for _, el := range next.Elements {
		seen[el.Ref] = true
		old, ok := prevByRef[el.Ref]
		if !ok {
			d.Added = append(d.Added, el)
			continue
		}
		d.Changed = append(d.Changed, fieldChanges(old, el)...)
	}
	if prev != nil {
		for _, el := range prev.Elements {
			if !seen[el.Ref] {
				d.Removed = append(d.Removed, el.Ref)
			}
		}
	}
	return d
}

func fieldChanges(old, next Element) []AttrChange {
	var changes []AttrChange
	if old.Name != next.Name {
		changes = append(changes, AttrChange{Ref: next.Ref, Field: "name", From: old.Name, To: next.Name})
	}
	if old.Value != next.Value {
		changes = append(changes, AttrChange{Ref: next.Ref, Field: "value", From: old.Value, To: next.Value})
	}
	if old.Role != next.Role {
		changes = append(changes, AttrChange{Ref: next.Ref, Field: "role", From: old.Role, To: next.Role})
	}
	for k, nv := range next.Attrs {
		if ov, ok := old.Attrs[k]; !ok || ov != nv {
			from := ""
			if ok {
				from = ov
			}
			changes = append(changes, AttrChange{Ref: next.Ref, Field: "attr." + k, From: from, To: nv})
		}
	}
	for k, ov := range old.Attrs {
		if _, ok := next.Attrs[k]; !ok {
			changes = append(changes, AttrChange{Ref: next.Ref, Field: "attr." + k, From: ov, To: ""})
		}
	}
	return changes
}
