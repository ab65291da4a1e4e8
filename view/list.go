// Package view renders the reconciled library state as text and turns user
// intent into library operations. It never touches the cache or the remote.
package view

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/reconcile"
	"github.com/stevemurr/library-sync/selection"
)

// Source is what a List reads from and sends intent to. *library.Library
// implements it.
type Source interface {
	Workspace() string
	Collections() []model.Collection
	Members(collectionID string) []string
	Pending() int
	Selection() *selection.Set[string]
	DeleteCollections(ctx context.Context, ids []string) (reconcile.BulkResult, error)
}

// List is the collection list of the open workspace.
type List struct {
	src Source
}

func NewList(src Source) *List {
	return &List{src: src}
}

// Render writes one row per collection in display order. Selected rows are
// marked "*", rows still waiting for the remote "~".
func (l *List) Render(w io.Writer) error {
	sel := l.src.Selection()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "workspace %s", l.src.Workspace())
	if n := l.src.Pending(); n > 0 {
		fmt.Fprintf(tw, " (%d pending)", n)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "\tORDER\tNAME\tITEMS\tID")
	for _, c := range l.src.Collections() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			marker(sel.IsSelectedIn(c.ID, ""), model.IsTemporaryID(c.ID)),
			c.OrderIndex, c.Name, len(l.src.Members(c.ID)), c.ID)
	}
	return tw.Flush()
}

// RenderMembers writes the members of one collection.
func (l *List) RenderMembers(w io.Writer, collectionID string) error {
	sel := l.src.Selection()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tITEM")
	for _, id := range l.src.Members(collectionID) {
		fmt.Fprintf(tw, "%s\t%s\n", marker(sel.IsSelectedIn(id, collectionID), false), id)
	}
	return tw.Flush()
}

func marker(selected, pending bool) string {
	switch {
	case selected && pending:
		return "*~"
	case selected:
		return "*"
	case pending:
		return "~"
	default:
		return ""
	}
}

// ToggleCollection flips the selection of a collection. It returns whether
// the collection is selected afterwards; unknown ids are never selected.
func (l *List) ToggleCollection(id string) bool {
	for _, c := range l.src.Collections() {
		if c.ID == id {
			return l.src.Selection().Toggle(id, c.Name, "")
		}
	}
	return false
}

// ToggleMember flips the selection of an item within a collection.
func (l *List) ToggleMember(collectionID, memberID string) bool {
	return l.src.Selection().Toggle(memberID, memberID, collectionID)
}

// ClearSelection deselects everything.
func (l *List) ClearSelection() {
	l.src.Selection().Clear()
}

// SelectedCollections returns the selected collections in display order.
// Selected ids that no longer exist are skipped.
func (l *List) SelectedCollections() []model.Collection {
	sel := l.src.Selection()
	var out []model.Collection
	for _, c := range l.src.Collections() {
		if sel.IsSelectedIn(c.ID, "") {
			out = append(out, c)
		}
	}
	return out
}

// DeleteSelected deletes every selected collection in one bulk operation.
func (l *List) DeleteSelected(ctx context.Context) (reconcile.BulkResult, error) {
	selected := l.SelectedCollections()
	if len(selected) == 0 {
		return reconcile.BulkResult{}, nil
	}
	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.ID
	}
	return l.src.DeleteCollections(ctx, ids)
}
