package clone

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

// smartViews copies saved searches in two passes. The first pass rewrites every id the
// mapping knows and creates the views in their source order. Views can reference other views
// whose destination ids only exist once created, so the second pass rewrites those
// references and updates the views that changed.
func (c *Cloner) smartViews(ctx context.Context) error {
	views, err := c.from.All(ctx, "saved_search")
	if err != nil {
		return err
	}

	// The API lists the most recently created view first.
	reversed := make([]closeio.Record, 0, len(views))
	for i := len(views) - 1; i >= 0; i-- {
		reversed = append(reversed, views[i])
	}

	viewIDs := transfer.Mapping{}
	var created []closeio.Record

	for _, view := range reversed {
		name := view.String("name")
		payload := transfer.Strip(view, "id", "organization_id", "user_id")

		if err := c.rewriteQuery(ctx, payload); err != nil {
			return err
		}

		res, ok, err := c.create(ctx, fmt.Sprintf("smart view `%s`", name), "saved_search", payload)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		viewIDs[view.ID()] = res.ID()
		created = append(created, res)
	}

	c.log.Debug("smart views created", zap.Int("created", len(created)), zap.Int("source", len(views)))

	for _, view := range created {
		update := closeio.Record{}
		if sq, ok := view["s_query"]; ok && sq != nil {
			if next := transfer.StructuredReplace(sq, viewIDs); !reflect.DeepEqual(next, sq) {
				update["s_query"] = next
			}
		} else if q := view.String("query"); q != "" {
			if next := transfer.TextualReplace(q, viewIDs); next != q {
				update["query"] = next
			}
		}
		if len(update) == 0 {
			continue
		}

		key := fmt.Sprintf("smart view `%s` references", view.String("name"))
		if err := c.update(ctx, key, "saved_search/"+view.ID(), update); err != nil {
			return err
		}
	}
	return nil
}

// rewriteQuery replaces the ids of a view's structured query or, for views still on the
// deprecated textual query, the ids found in the query text.
func (c *Cloner) rewriteQuery(ctx context.Context, view closeio.Record) error {
	sq, hasStructured := view["s_query"]
	q := view.String("query")
	if (!hasStructured || sq == nil) && q == "" {
		return nil
	}

	m, err := c.mapping.Get(ctx)
	if err != nil {
		return fmt.Errorf("build id mapping: %w", err)
	}
	if hasStructured && sq != nil {
		view["s_query"] = transfer.StructuredReplace(sq, m)
	} else {
		view["query"] = transfer.TextualReplace(q, m)
	}
	return nil
}
