package relay

import (
	"sort"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

// blurDown rounds t down to the nearest multiple of blur seconds. A
// zero or negative blur disables rounding (spec.md §3.2's "blur" is an
// opt-in privacy knob).
func blurDown(t, blur int64) int64 {
	if blur <= 0 {
		return t
	}
	return blur * (t / blur)
}

func addedTimes(added []int64) (min int64, waiting *int64) {
	sorted := append([]int64(nil), added...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	min = sorted[0]
	if len(sorted) >= 2 {
		w := sorted[1] - sorted[0]
		waiting = &w
	}
	return min, waiting
}

// summarizeNameplate implements spec.md §4.3.1's nameplate summary
// rule over the side rows observed at deletion time T.
func summarizeNameplate(appID string, sides []store.NameplateSideRow, deleteTime int64, pruned bool, blur int64) store.NameplateUsage {
	added := make([]int64, len(sides))
	for i, s := range sides {
		added[i] = s.Added
	}
	minAdded, waiting := addedTimes(added)

	var result string
	switch {
	case len(sides) <= 1:
		result = "lonely"
	case len(sides) == 2:
		result = "happy"
	default:
		result = "crowded"
	}
	if pruned {
		result = "pruney"
	}

	return store.NameplateUsage{
		AppID:       appID,
		Started:     blurDown(minAdded, blur),
		TotalTime:   deleteTime - minAdded,
		WaitingTime: waiting,
		Result:      result,
	}
}

// summarizeMailbox implements spec.md §4.3.1's mailbox summary rule.
// Rule ordering matters: later overrides win, ending with "crowded"
// trumping moods and "pruney" alike per spec.md's explicit ordering.
func summarizeMailbox(appID string, forNameplate bool, sides []store.MailboxSideRow, deleteTime int64, pruned bool, blur int64) store.MailboxUsage {
	if len(sides) == 0 {
		// Unreachable through the public API (spec.md §9(c)); kept
		// for parity with the behavior it documents.
		return store.MailboxUsage{AppID: appID, ForNameplate: forNameplate, Result: "quiet"}
	}

	added := make([]int64, len(sides))
	var anyLonely, anyErrory, anyScary bool
	for i, s := range sides {
		added[i] = s.Added
		switch s.Mood {
		case "lonely":
			anyLonely = true
		case "errory":
			anyErrory = true
		case "scary":
			anyScary = true
		}
	}
	minAdded, waiting := addedTimes(added)

	result := "happy"
	if len(sides) == 1 {
		result = "lonely"
	}
	if anyLonely {
		result = "lonely"
	}
	if anyErrory {
		result = "errory"
	}
	if anyScary {
		result = "scary"
	}
	if pruned {
		result = "pruney"
	}
	if len(sides) > 2 {
		result = "crowded"
	}

	return store.MailboxUsage{
		AppID:        appID,
		ForNameplate: forNameplate,
		Started:      blurDown(minAdded, blur),
		TotalTime:    deleteTime - minAdded,
		WaitingTime:  waiting,
		Result:       result,
	}
}
