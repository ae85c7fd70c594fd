package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// GetMedia retrieves a media record by ID. Returns ErrNotFound if absent.
func (c *Client) GetMedia(ctx context.Context, id string) (*models.Media, error) {
	results, err := surrealdb.Query[[]models.Media](ctx, c.db, `
		SELECT * FROM type::record("media", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// UpdateMediaOutputs records produced artifact keys on the media row.
// Only declared outputs are written; absent fields stay untouched.
func (c *Client) UpdateMediaOutputs(ctx context.Context, id string, outputs models.Outputs) error {
	set := "updated_at = time::now(), error = NONE"
	vars := map[string]any{"id": id}

	if outputs.Video != nil {
		set += ", video_key = $video_key"
		vars["video_key"] = outputs.Video.Key
	}
	if outputs.Audio != nil {
		set += ", audio_key = $audio_key"
		vars["audio_key"] = outputs.Audio.Key
	}
	if outputs.Metadata != nil {
		set += ", metadata_key = $metadata_key"
		vars["metadata_key"] = outputs.Metadata.Key
	}
	if outputs.VTT != nil {
		set += ", subtitle_key = $subtitle_key"
		vars["subtitle_key"] = outputs.VTT.Key
	}
	if outputs.Words != nil {
		set += ", transcript_key = $transcript_key"
		vars["transcript_key"] = outputs.Words.Key
	}
	if outputs.Comments != nil {
		set += ", comments_key = $comments_key"
		vars["comments_key"] = outputs.Comments.Key
	}

	sql := fmt.Sprintf(`UPDATE type::record("media", $id) SET %s`, set)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("update media outputs: %w", err)
	}
	return nil
}

// SetMediaError records a failure message on the media row.
func (c *Client) SetMediaError(ctx context.Context, id, message string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("media", $id) SET
			error = $message,
			updated_at = time::now()
	`, map[string]any{"id": id, "message": message})
	if err != nil {
		return fmt.Errorf("set media error: %w", err)
	}
	return nil
}

// UpdateThreadRender records the rendered video key on the thread row.
func (c *Client) UpdateThreadRender(ctx context.Context, id, videoKey string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("thread", $id) SET
			rendered_video_key = $video_key,
			error = NONE,
			updated_at = time::now()
	`, map[string]any{"id": id, "video_key": videoKey})
	if err != nil {
		return fmt.Errorf("update thread render: %w", err)
	}
	return nil
}

// SetThreadError records a failure message on the thread row.
func (c *Client) SetThreadError(ctx context.Context, id, message string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("thread", $id) SET
			error = $message,
			updated_at = time::now()
	`, map[string]any{"id": id, "message": message})
	if err != nil {
		return fmt.Errorf("set thread error: %w", err)
	}
	return nil
}
