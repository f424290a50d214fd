package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/live"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

const foodCardColumns = `id, name, image_ref, price, type, note, location, created_at, updated_at`

// deleteBatchSize bounds the number of bound parameters per DELETE.
const deleteBatchSize = 500

// FoodCardRepository persists food cards.
type FoodCardRepository struct {
	*store
}

// NewFoodCardRepository creates a FoodCardRepository. Writes are announced
// on bus under TableFoodCards.
func NewFoodCardRepository(db *DB, bus *live.Bus) *FoodCardRepository {
	return &FoodCardRepository{store: newStore(db, bus)}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFoodCard(sc rowScanner) (*models.FoodCard, error) {
	var c models.FoodCard
	var typ string
	var note, location sql.NullString
	if err := sc.Scan(&c.ID, &c.Name, &c.ImageRef, &c.Price, &typ, &note, &location,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	t, err := models.ParseFoodType(typ)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt food card row", err)
	}
	c.Type = t
	c.Note = note.String
	c.Location = location.String
	return &c, nil
}

func (r *FoodCardRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.FoodCard, error) {
	rows, err := r.query(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []*models.FoodCard{}
	for rows.Next() {
		c, err := scanFoodCard(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return cards, nil
}

// ListAll returns every card, newest first.
func (r *FoodCardRepository) ListAll(ctx context.Context) ([]*models.FoodCard, error) {
	return r.list(ctx, "list food cards",
		`SELECT `+foodCardColumns+` FROM food_cards ORDER BY created_at DESC, id DESC`)
}

// WatchAll is the reactive form of ListAll.
func (r *FoodCardRepository) WatchAll(ctx context.Context) *live.Subscription[[]*models.FoodCard] {
	return live.Watch(ctx, r.bus, r.ListAll, TableFoodCards)
}

// ListByType returns the cards of type t, newest first.
func (r *FoodCardRepository) ListByType(ctx context.Context, t models.FoodType) ([]*models.FoodCard, error) {
	if !t.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown food type %q", t)
	}
	return r.list(ctx, "list food cards by type",
		`SELECT `+foodCardColumns+` FROM food_cards WHERE type = ? ORDER BY created_at DESC, id DESC`,
		string(t))
}

// WatchByType is the reactive form of ListByType.
func (r *FoodCardRepository) WatchByType(ctx context.Context, t models.FoodType) *live.Subscription[[]*models.FoodCard] {
	return live.Watch(ctx, r.bus, func(ctx context.Context) ([]*models.FoodCard, error) {
		return r.ListByType(ctx, t)
	}, TableFoodCards)
}

// Search returns the cards whose name contains q, newest first. Matching
// uses SQLite LIKE, so it ignores case for ASCII letters only. Wildcards in q
// match literally.
func (r *FoodCardRepository) Search(ctx context.Context, q string) ([]*models.FoodCard, error) {
	return r.list(ctx, "search food cards",
		`SELECT `+foodCardColumns+` FROM food_cards WHERE name LIKE ? ESCAPE '\' ORDER BY created_at DESC, id DESC`,
		"%"+escapeLike(q)+"%")
}

// WatchSearch is the reactive form of Search.
func (r *FoodCardRepository) WatchSearch(ctx context.Context, q string) *live.Subscription[[]*models.FoodCard] {
	return live.Watch(ctx, r.bus, func(ctx context.Context) ([]*models.FoodCard, error) {
		return r.Search(ctx, q)
	}, TableFoodCards)
}

// GetByID returns the card with the given id, or a NOT_FOUND error.
func (r *FoodCardRepository) GetByID(ctx context.Context, id int64) (*models.FoodCard, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+foodCardColumns+` FROM food_cards WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	c, err := scanFoodCard(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("food card", id)
	}
	if err != nil {
		return nil, classify("get food card", err)
	}
	return c, nil
}

const insertFoodCardSQL = `
	INSERT INTO food_cards (id, name, image_ref, price, type, note, location, created_at, updated_at)
	VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		image_ref = excluded.image_ref,
		price = excluded.price,
		type = excluded.type,
		note = excluded.note,
		location = excluded.location,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	RETURNING id`

func checkFoodCard(c *models.FoodCard) error {
	if c.ID < 0 {
		return apperrors.Newf(apperrors.ErrValidation, "invalid food card id %d", c.ID)
	}
	if err := c.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid food card", err)
	}
	return nil
}

// Insert stores c and returns its id. A zero c.ID gets a new id; a non-zero
// c.ID replaces the row with that id if there is one. c is updated in place
// with the assigned id and timestamps.
func (r *FoodCardRepository) Insert(ctx context.Context, c *models.FoodCard) (int64, error) {
	if err := checkFoodCard(c); err != nil {
		return 0, err
	}
	c.Stamp(models.NowMillis())

	stmt, err := r.PrepareStmt(ctx, insertFoodCardSQL)
	if err != nil {
		return 0, err
	}

	var id int64
	err = stmt.QueryRowContext(ctx, c.ID, c.Name, c.ImageRef, c.Price, string(c.Type),
		nullString(c.Note), nullString(c.Location), c.CreatedAt, c.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, classify("insert food card", err)
	}
	c.ID = id
	r.bus.Publish(TableFoodCards)

	logging.Debug("food card inserted", map[string]interface{}{"id": id, "type": c.Type})
	return id, nil
}

// Update overwrites the card with c.ID. It returns NOT_FOUND when no such
// card exists. UpdatedAt always moves strictly forward, and c is updated in
// place with the stored timestamps.
func (r *FoodCardRepository) Update(ctx context.Context, c *models.FoodCard) error {
	if c.ID <= 0 {
		return apperrors.New(apperrors.ErrValidation, "food card id is required for update")
	}
	if err := c.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid food card", err)
	}

	stmt, err := r.PrepareStmt(ctx, `
	UPDATE food_cards
	SET name = ?, image_ref = ?, price = ?, type = ?, note = ?, location = ?,
		updated_at = MAX(?, updated_at + 1)
	WHERE id = ?
	RETURNING created_at, updated_at`)
	if err != nil {
		return err
	}

	err = stmt.QueryRowContext(ctx, c.Name, c.ImageRef, c.Price, string(c.Type),
		nullString(c.Note), nullString(c.Location), models.NowMillis(), c.ID).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("food card", c.ID)
	}
	if err != nil {
		return classify("update food card", err)
	}
	r.bus.Publish(TableFoodCards)

	logging.Debug("food card updated", map[string]interface{}{"id": c.ID})
	return nil
}

// Delete removes c. Deleting a card that does not exist is not an error.
func (r *FoodCardRepository) Delete(ctx context.Context, c *models.FoodCard) error {
	_, err := r.DeleteByID(ctx, c.ID)
	return err
}

// DeleteByID removes the card with id and reports whether it existed.
func (r *FoodCardRepository) DeleteByID(ctx context.Context, id int64) (bool, error) {
	n, err := r.exec(ctx, TableFoodCards, "delete food card",
		`DELETE FROM food_cards WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByIDs removes every listed card in one transaction and returns how
// many existed. Ids with no card are ignored.
func (r *FoodCardRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin delete food cards", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		res, err := tx.ExecContext(ctx,
			`DELETE FROM food_cards WHERE id IN (`+placeholders(len(batch))+`)`, int64Args(batch)...)
		if err != nil {
			return 0, classify("delete food cards", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, classify("delete food cards", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("commit delete food cards", err)
	}
	if total > 0 {
		r.bus.Publish(TableFoodCards)
	}

	logging.Debug("food cards deleted", map[string]interface{}{
		"requested": len(ids),
		"deleted":   total,
	})
	return total, nil
}

// Count returns the number of cards.
func (r *FoodCardRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "count food cards", `SELECT COUNT(*) FROM food_cards`)
}

// WatchCount is the reactive form of Count.
func (r *FoodCardRepository) WatchCount(ctx context.Context) *live.Subscription[int] {
	return live.Watch(ctx, r.bus, r.Count, TableFoodCards)
}

// ImageRefs returns the set of image refs in use, for pruning unused images.
func (r *FoodCardRepository) ImageRefs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.query(ctx, "list image refs", `SELECT DISTINCT image_ref FROM food_cards`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, classify("list image refs", err)
		}
		refs[ref] = true
	}
	return refs, classify("list image refs", rows.Err())
}
