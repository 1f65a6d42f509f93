// Package store persists parsed books in SQLite.
//
// Each book keeps its header as JSON, every chapter result as JSON, the
// verse and structural ranges as rows for querying, the diagnostics, and the
// xz-compressed source it was parsed from, addressed by its BLAKE3 digest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/sqlite"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	digest     TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	size       INTEGER NOT NULL,
	data       BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS books (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	path          TEXT NOT NULL,
	source_digest TEXT NOT NULL REFERENCES sources(digest),
	header        TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chapters (
	book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	number  INTEGER,
	result  TEXT NOT NULL,
	PRIMARY KEY (book_id, seq)
);
CREATE TABLE IF NOT EXISTS ranges (
	book_id      TEXT NOT NULL,
	chapter_seq  INTEGER NOT NULL,
	seq          INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	verse_start  INTEGER,
	verse_end    INTEGER,
	PRIMARY KEY (book_id, chapter_seq, seq),
	FOREIGN KEY (book_id, chapter_seq) REFERENCES chapters(book_id, seq) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS ranges_by_kind ON ranges(book_id, kind);
CREATE TABLE IF NOT EXISTS diagnostics (
	book_id   TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	chapter   INTEGER,
	line_no   INTEGER NOT NULL,
	column_no INTEGER NOT NULL,
	marker    TEXT NOT NULL,
	message   TEXT NOT NULL,
	PRIMARY KEY (book_id, seq)
);
`

// Store is a SQLite-backed book store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Source is the raw input a book was parsed from.
type Source struct {
	Path   string
	Format string // "usfm" or "usx"
	Data   []byte
}

// BookSummary describes a stored book without its content.
type BookSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Digest      string    `json:"digest"`
	Chapters    int       `json:"chapters"`
	Diagnostics int       `json:"diagnostics"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VerseRange locates one verse in a stored chapter's text.
type VerseRange struct {
	Chapter int `json:"chapter"`
	Start   int `json:"verse_start"`
	End     int `json:"verse_end"`
	Min     int `json:"min"`
	Max     int `json:"max"`
}

// Reference returns the verses v covers.
func (v VerseRange) Reference(book string) bibleref.Reference {
	return bibleref.NewRange(book, v.Chapter, v.Start, v.End)
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating schema in %s", path)
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenReadOnly opens an existing store without creating or changing its
// schema. Writes through it fail.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsCurrent reports whether the book stored from path was parsed from the
// source with the given digest.
func (s *Store) IsCurrent(ctx context.Context, path, digest string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM books WHERE path = ? AND source_digest = ?`, path, digest).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "querying books")
	}
	return n > 0, nil
}

// SaveBook stores a parsed book and its source, replacing any earlier
// version of the same book. It returns the source digest.
func (s *Store) SaveBook(ctx context.Context, src Source, res parser.BookResult) (string, error) {
	if !res.OK() {
		return "", errors.NewValidation("book", src.Path, "cannot store a book whose header failed to parse")
	}
	book := res.Book
	digest := Digest(src.Data)
	compressed, err := Compress(src.Data)
	if err != nil {
		return "", err
	}

	header := *book
	header.Chapters = nil
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", errors.Wrap(err, "encoding book header")
	}
	now := s.now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sources (digest, format, size, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO NOTHING`,
		digest, src.Format, len(src.Data), compressed, now); err != nil {
		return "", errors.Wrap(err, "storing source")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, book.ID); err != nil {
		return "", errors.Wrap(err, "replacing book")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO books (id, name, path, source_digest, header, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		book.ID, book.Name, src.Path, digest, string(headerJSON), now); err != nil {
		return "", errors.Wrap(err, "storing book")
	}

	diag := &diagnosticWriter{tx: tx, book: book.ID}
	if err := diag.write(ctx, sql.NullInt64{Valid: true}, res.Errors); err != nil {
		return "", err
	}
	for i, ch := range book.Chapters {
		if err := saveChapter(ctx, tx, book.ID, i, ch); err != nil {
			return "", err
		}
		var number sql.NullInt64
		if ch.Chapter != nil {
			number = sql.NullInt64{Int64: int64(ch.Chapter.Number), Valid: true}
		}
		if err := diag.write(ctx, number, ch.Errors); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "committing book")
	}
	return digest, nil
}

func saveChapter(ctx context.Context, tx *sql.Tx, book string, seq int, ch parser.ChapterResult) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return errors.Wrapf(err, "encoding chapter %d", seq)
	}
	var number sql.NullInt64
	if ch.Chapter != nil {
		number = sql.NullInt64{Int64: int64(ch.Chapter.Number), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chapters (book_id, seq, number, result) VALUES (?, ?, ?, ?)`,
		book, seq, number, string(data)); err != nil {
		return errors.Wrapf(err, "storing chapter %d", seq)
	}
	if ch.Chapter == nil {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ranges (book_id, chapter_seq, seq, kind, start_offset, end_offset, verse_start, verse_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing range insert")
	}
	defer stmt.Close()

	for i, r := range ch.Chapter.Body.Ranges {
		var start, end sql.NullInt64
		if v, ok := r.Payload.(document.VersePayload); ok {
			start = sql.NullInt64{Int64: int64(v.Ref.Start.Verse), Valid: true}
			end = start
			if v.Ref.End != nil {
				end = sql.NullInt64{Int64: int64(v.Ref.End.Verse), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, book, seq, i, r.Kind, r.Min, r.Max, start, end); err != nil {
			return errors.Wrapf(err, "storing range %d of chapter %d", i, seq)
		}
	}
	return nil
}

type diagnosticWriter struct {
	tx   *sql.Tx
	book string
	seq  int
}

// write stores errs against chapter; chapter 0 is the book header.
func (w *diagnosticWriter) write(ctx context.Context, chapter sql.NullInt64, errs []usfm.ParseError) error {
	for _, e := range errs {
		if _, err := w.tx.ExecContext(ctx,
			`INSERT INTO diagnostics (book_id, seq, chapter, line_no, column_no, marker, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.book, w.seq, chapter, e.Marker.Pos.Line, e.Marker.Pos.Column, e.Marker.Tag(), e.Message); err != nil {
			return errors.Wrap(err, "storing diagnostic")
		}
		w.seq++
	}
	return nil
}

// Book loads a stored book with all its chapter results.
func (s *Store) Book(ctx context.Context, id string) (*parser.Book, error) {
	var header string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM books WHERE id = ?`, id).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("book", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading book %s", id)
	}

	var book parser.Book
	if err := json.Unmarshal([]byte(header), &book); err != nil {
		return nil, errors.Wrapf(err, "decoding book %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT result FROM chapters WHERE book_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "loading chapters of %s", id)
	}
	defer rows.Close()
	book.Chapters = []parser.ChapterResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "reading chapter")
		}
		var ch parser.ChapterResult
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			return nil, errors.Wrapf(err, "decoding chapter of %s", id)
		}
		book.Chapters = append(book.Chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading chapters")
	}
	return &book, nil
}

// Chapter loads one parsed chapter. When the book has several chapters with
// the same number the first is returned.
func (s *Store) Chapter(ctx context.Context, book string, number int) (*parser.Chapter, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM chapters WHERE book_id = ? AND number = ? ORDER BY seq LIMIT 1`,
		book, number).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("chapter", fmt.Sprintf("%s %d", book, number))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading chapter %s %d", book, number)
	}

	var res parser.ChapterResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, errors.Wrapf(err, "decoding chapter %s %d", book, number)
	}
	return res.Chapter, nil
}

// Books lists the stored books in canonical-code order.
func (s *Store) Books(ctx context.Context) ([]BookSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.path, b.source_digest, b.updated_at,
		       (SELECT COUNT(*) FROM chapters c WHERE c.book_id = b.id AND c.number IS NOT NULL),
		       (SELECT COUNT(*) FROM diagnostics d WHERE d.book_id = b.id)
		FROM books b ORDER BY b.id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing books")
	}
	defer rows.Close()

	books := []BookSummary{}
	for rows.Next() {
		var b BookSummary
		var updated string
		if err := rows.Scan(&b.ID, &b.Name, &b.Path, &b.Digest, &updated, &b.Chapters, &b.Diagnostics); err != nil {
			return nil, errors.Wrap(err, "reading book row")
		}
		if b.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
			return nil, errors.Wrapf(err, "parsing update time of %s", b.ID)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// VerseRanges returns the verse ranges of a chapter in text order.
func (s *Store) VerseRanges(ctx context.Context, book string, chapter int) ([]VerseRange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.number, COALESCE(r.verse_start, 0), COALESCE(r.verse_end, 0), r.start_offset, r.end_offset
		FROM ranges r JOIN chapters c ON c.book_id = r.book_id AND c.seq = r.chapter_seq
		WHERE r.book_id = ? AND c.number = ? AND r.kind = ?
		ORDER BY r.start_offset, r.seq`,
		book, chapter, document.KindVerse)
	if err != nil {
		return nil, errors.Wrapf(err, "querying verses of %s %d", book, chapter)
	}
	defer rows.Close()

	verses := []VerseRange{}
	for rows.Next() {
		var v VerseRange
		if err := rows.Scan(&v.Chapter, &v.Start, &v.End, &v.Min, &v.Max); err != nil {
			return nil, errors.Wrap(err, "reading verse row")
		}
		verses = append(verses, v)
	}
	return verses, rows.Err()
}

// Source returns the decompressed source with the given digest.
func (s *Store) Source(ctx context.Context, digest string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sources WHERE digest = ?`, digest).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("source", digest)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading source %s", digest)
	}
	return Decompress(data)
}

// Diagnostics returns the stored diagnostics of a book as "line:col: tag:
// message" strings keyed by chapter number, with 0 for the header.
// Diagnostics of chapters that failed to parse are keyed by -1.
func (s *Store) Diagnostics(ctx context.Context, book string) (map[int][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(chapter, -1), line_no, column_no, marker, message FROM diagnostics WHERE book_id = ? ORDER BY seq`,
		book)
	if err != nil {
		return nil, errors.Wrapf(err, "querying diagnostics of %s", book)
	}
	defer rows.Close()

	out := map[int][]string{}
	for rows.Next() {
		var chapter, line, column int
		var marker, message string
		if err := rows.Scan(&chapter, &line, &column, &marker, &message); err != nil {
			return nil, errors.Wrap(err, "reading diagnostic row")
		}
		out[chapter] = append(out[chapter], fmt.Sprintf("%d:%d: %s: %s", line, column, marker, message))
	}
	return out, rows.Err()
}
