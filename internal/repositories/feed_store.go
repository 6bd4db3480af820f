package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/yattee/server/internal/db"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
)

// PostgresFeedStore persists watched channels and their recent uploads.
type PostgresFeedStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresFeedStore constructs a feed store backed by PostgreSQL.
func NewPostgresFeedStore(pool db.Pool) *PostgresFeedStore {
	return &PostgresFeedStore{pool: pool, now: time.Now}
}

const channelColumns = `
    wc.channel_id, wc.site, wc.display_name, wc.channel_url, wc.avatar_url,
    wc.last_requested_at, wc.last_fetch_at, wc.last_fetch_status, wc.last_error,
    wc.subscriber_count, wc.is_verified, wc.videos_fetched, wc.pagination_limited, wc.limit_reason,
    (SELECT MAX(fv.published_at) FROM feed_videos fv WHERE fv.channel_id = wc.channel_id)`

const videoColumns = `
    channel_id, video_id, site, title, author, author_id, length_seconds, view_count,
    published_at, published_text, thumbnail_url, thumbnails, video_url, fetched_at`

// Watch registers channels and refreshes their last request time.
func (s *PostgresFeedStore) Watch(ctx context.Context, channels []models.WatchedChannel) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	now := s.now().UTC()
	batch := &pgx.Batch{}
	for _, ch := range channels {
		if ch.ChannelID == "" {
			continue
		}
		batch.Queue(`
            INSERT INTO watched_channels (channel_id, site, display_name, channel_url, avatar_url, last_requested_at)
            VALUES ($1, COALESCE(NULLIF($2, ''), 'youtube'), $3, $4, $5, $6)
            ON CONFLICT (channel_id)
            DO UPDATE SET
                site = COALESCE(NULLIF($2, ''), watched_channels.site),
                display_name = COALESCE(NULLIF($3, ''), watched_channels.display_name),
                channel_url = COALESCE(NULLIF($4, ''), watched_channels.channel_url),
                avatar_url = COALESCE(NULLIF($5, ''), watched_channels.avatar_url),
                last_requested_at = $6
        `, ch.ChannelID, ch.Site, ch.DisplayName, ch.ChannelURL, ch.AvatarURL, now)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := conn.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert watched channel: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close watch batch: %w", err)
	}
	return nil
}

// Unwatch deletes a channel; its videos go with it through the foreign key.
func (s *PostgresFeedStore) Unwatch(ctx context.Context, channelID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM watched_channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete watched channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrChannelNotWatched
	}
	return nil
}

// ListWatched returns every watched channel.
func (s *PostgresFeedStore) ListWatched(ctx context.Context) ([]models.WatchedChannel, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT `+channelColumns+`
        FROM watched_channels wc
        ORDER BY wc.site, wc.channel_id
    `)
	if err != nil {
		return nil, fmt.Errorf("query watched channels: %w", err)
	}
	defer rows.Close()

	var channels []models.WatchedChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watched channels: %w", err)
	}
	return channels, nil
}

// MergeChannelVideos applies feed.PlanMerge inside one transaction that holds
// the channel row lock, so concurrent merges of a channel serialize.
func (s *PostgresFeedStore) MergeChannelVideos(ctx context.Context, channelID string, videos []models.FeedVideo, limits feed.Limits) (feed.MergeResult, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return feed.MergeResult{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var result feed.MergeResult
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var site string
		err := tx.QueryRow(ctx, `SELECT site FROM watched_channels WHERE channel_id = $1 FOR UPDATE`, channelID).Scan(&site)
		if errors.Is(err, pgx.ErrNoRows) {
			return feed.ErrChannelNotWatched
		}
		if err != nil {
			return fmt.Errorf("lock watched channel: %w", err)
		}

		existing, err := queryVideos(ctx, tx, `SELECT `+videoColumns+` FROM feed_videos WHERE channel_id = $1`, channelID)
		if err != nil {
			return err
		}

		incoming := make([]models.FeedVideo, len(videos))
		for i, v := range videos {
			v.ChannelID = channelID
			if v.Site == "" {
				v.Site = site
			}
			incoming[i] = v
		}

		plan := feed.PlanMerge(existing, incoming, s.now().UTC(), limits)
		if len(plan.Remove) > 0 {
			if _, err := tx.Exec(ctx, `
                DELETE FROM feed_videos
                WHERE channel_id = $1 AND video_id = ANY($2)
            `, channelID, plan.Remove); err != nil {
				return fmt.Errorf("delete evicted videos: %w", err)
			}
		}

		batch := &pgx.Batch{}
		for _, v := range plan.Keep {
			thumbs, err := encodeThumbnails(v.Thumbnails)
			if err != nil {
				return err
			}
			batch.Queue(`
                INSERT INTO feed_videos (`+videoColumns+`)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
                ON CONFLICT (channel_id, video_id)
                DO UPDATE SET
                    site = EXCLUDED.site,
                    title = EXCLUDED.title,
                    author = EXCLUDED.author,
                    author_id = EXCLUDED.author_id,
                    length_seconds = EXCLUDED.length_seconds,
                    view_count = EXCLUDED.view_count,
                    published_at = EXCLUDED.published_at,
                    published_text = EXCLUDED.published_text,
                    thumbnail_url = EXCLUDED.thumbnail_url,
                    thumbnails = EXCLUDED.thumbnails,
                    video_url = EXCLUDED.video_url,
                    fetched_at = EXCLUDED.fetched_at
            `, v.ChannelID, v.VideoID, v.Site, v.Title, v.Author, v.AuthorID, v.LengthSeconds, v.ViewCount,
				v.PublishedAt.UTC(), v.PublishedText, v.ThumbnailURL, thumbs, v.VideoURL, v.FetchedAt.UTC())
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("upsert feed videos: %w", err)
			}
		}

		result = feed.MergeResult{Stored: len(plan.Keep), Removed: len(plan.Remove), Duplicates: plan.Duplicates}
		return nil
	})
	if err != nil {
		if errors.Is(err, feed.ErrChannelNotWatched) {
			return feed.MergeResult{}, err
		}
		return feed.MergeResult{}, fmt.Errorf("merge channel videos: %w", err)
	}

	if result.Duplicates > 0 {
		logging.FromContext(ctx).Warn("dropped duplicate feed videos", "channelId", channelID, "duplicates", result.Duplicates)
	}
	return result, nil
}

// CombinedFeed returns one page of the channels' videos in feed order.
func (s *PostgresFeedStore) CombinedFeed(ctx context.Context, channelIDs []string, limit, offset int) (feed.Page, error) {
	limit, offset = feed.PageBounds(limit, offset)
	page := feed.Page{Videos: []models.FeedVideo{}}
	if len(channelIDs) == 0 {
		return page, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return feed.Page{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*) FROM feed_videos WHERE channel_id = ANY($1)
    `, channelIDs).Scan(&page.Total); err != nil {
		return feed.Page{}, fmt.Errorf("count feed videos: %w", err)
	}

	videos, err := queryVideos(ctx, conn, `SELECT `+videoColumns+`
        FROM feed_videos
        WHERE channel_id = ANY($1)
        ORDER BY published_at DESC, video_id DESC, channel_id DESC
        LIMIT $2 OFFSET $3
    `, channelIDs, limit, offset)
	if err != nil {
		return feed.Page{}, err
	}
	if videos != nil {
		page.Videos = videos
	}
	page.HasMore = offset+len(page.Videos) < page.Total
	return page, nil
}

// ChannelStatus returns the watched channels among channelIDs.
func (s *PostgresFeedStore) ChannelStatus(ctx context.Context, channelIDs []string) (map[string]models.WatchedChannel, error) {
	out := make(map[string]models.WatchedChannel, len(channelIDs))
	if len(channelIDs) == 0 {
		return out, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT `+channelColumns+`
        FROM watched_channels wc
        WHERE wc.channel_id = ANY($1)
    `, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("query channel status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out[ch.ChannelID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel status: %w", err)
	}
	return out, nil
}

// RecordFetch stores the outcome of a channel fetch.
func (s *PostgresFeedStore) RecordFetch(ctx context.Context, channelID string, outcome feed.FetchOutcome) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	at := outcome.At
	if at.IsZero() {
		at = s.now()
	}
	var lastError string
	if outcome.Status == models.FetchStatusError {
		lastError = feed.TruncateError(outcome.Error)
	}
	var (
		limited     bool
		limitReason string
		subscribers *int64
		verified    *bool
	)
	if p := outcome.Pagination; p != nil {
		limited, limitReason = p.Limited, p.LimitReason
	}
	if md := outcome.Metadata; md != nil {
		subscribers, verified = md.SubscriberCount, md.IsVerified
	}

	tag, err := conn.Exec(ctx, `
        UPDATE watched_channels
        SET last_fetch_at = $2,
            last_fetch_status = $3,
            last_error = $4,
            videos_fetched = $5,
            pagination_limited = $6,
            limit_reason = $7,
            subscriber_count = COALESCE($8, subscriber_count),
            is_verified = COALESCE($9, is_verified)
        WHERE channel_id = $1
    `, channelID, at.UTC(), string(outcome.Status), lastError, outcome.Fetched, limited, limitReason, subscribers, verified)
	if err != nil {
		return fmt.Errorf("update channel fetch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrChannelNotWatched
	}
	return nil
}

// PruneOlderThan deletes videos published before cutoff.
func (s *PostgresFeedStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(ctx, "prune feed videos", `DELETE FROM feed_videos WHERE published_at < $1`, cutoff.UTC())
}

// CleanupStale deletes channels no client has asked for since cutoff.
func (s *PostgresFeedStore) CleanupStale(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(ctx, "delete stale channels", `DELETE FROM watched_channels WHERE last_requested_at < $1`, cutoff.UTC())
}

// CleanupOrphans deletes videos without a watched channel. The foreign key
// normally prevents them; rows restored from an older schema are caught here.
func (s *PostgresFeedStore) CleanupOrphans(ctx context.Context) (int, error) {
	return s.deleteWhere(ctx, "delete orphan videos", `
        DELETE FROM feed_videos
        WHERE channel_id NOT IN (SELECT channel_id FROM watched_channels)
    `)
}

func (s *PostgresFeedStore) deleteWhere(ctx context.Context, op, query string, args ...any) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryVideos(ctx context.Context, q querier, sql string, args ...any) ([]models.FeedVideo, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed videos: %w", err)
	}
	defer rows.Close()

	var videos []models.FeedVideo
	for rows.Next() {
		var (
			v      models.FeedVideo
			thumbs []byte
		)
		if err := rows.Scan(&v.ChannelID, &v.VideoID, &v.Site, &v.Title, &v.Author, &v.AuthorID, &v.LengthSeconds, &v.ViewCount,
			&v.PublishedAt, &v.PublishedText, &v.ThumbnailURL, &thumbs, &v.VideoURL, &v.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan feed video: %w", err)
		}
		if len(thumbs) > 0 {
			if err := json.Unmarshal(thumbs, &v.Thumbnails); err != nil {
				return nil, fmt.Errorf("decode thumbnails of %s: %w", v.VideoID, err)
			}
		}
		v.PublishedAt = v.PublishedAt.UTC()
		v.FetchedAt = v.FetchedAt.UTC()
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed videos: %w", err)
	}
	return videos, nil
}

func scanChannel(row pgx.Row) (models.WatchedChannel, error) {
	var (
		ch          models.WatchedChannel
		status      string
		lastFetch   *time.Time
		lastVideo   *time.Time
		subscribers *int64
	)
	if err := row.Scan(&ch.ChannelID, &ch.Site, &ch.DisplayName, &ch.ChannelURL, &ch.AvatarURL,
		&ch.LastRequestedAt, &lastFetch, &status, &ch.LastError,
		&subscribers, &ch.IsVerified, &ch.VideosFetched, &ch.PaginationLimited, &ch.LimitReason,
		&lastVideo); err != nil {
		return models.WatchedChannel{}, fmt.Errorf("scan watched channel: %w", err)
	}
	ch.LastFetchStatus = models.FetchStatus(status)
	ch.LastRequestedAt = ch.LastRequestedAt.UTC()
	if lastFetch != nil {
		t := lastFetch.UTC()
		ch.LastFetchAt = &t
	}
	if lastVideo != nil {
		t := lastVideo.UTC()
		ch.LastVideoPublished = &t
	}
	ch.SubscriberCount = subscribers
	return ch, nil
}

func encodeThumbnails(thumbs []models.Thumbnail) ([]byte, error) {
	if len(thumbs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(thumbs)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnails: %w", err)
	}
	return raw, nil
}

var _ feed.Store = (*PostgresFeedStore)(nil)
