// Package store – persistência SQLite do taskclaw. Um único taskclaw.db
// guarda as entradas de memória (uma por execução de job, append-only,
// sequenciadas por job) e os turnos de sessão conversacional com janela
// deslizante FIFO. Toda escrita passa por aqui; os demais componentes
// apenas consultam.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// ErrNotFound indica consulta por entrada inexistente.
var ErrNotFound = fmt.Errorf("store: entry not found")

// schema é o DDL executado em todo startup (idempotente via IF NOT EXISTS).
const schema = `
-- Entradas de memória: uma linha por execução de job (append-only).
CREATE TABLE IF NOT EXISTS runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_alias  TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    result     TEXT NOT NULL,
    summary    TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    UNIQUE(job_alias, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_alias_seq ON runs(job_alias, seq);

-- Turnos de sessão conversacional (janela FIFO por job+sessão).
CREATE TABLE IF NOT EXISTS session_turns (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_alias   TEXT NOT NULL,
    session_key TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_alias_key ON session_turns(job_alias, session_key, id);
`

// Entry é uma entrada de memória persistida.
type Entry struct {
	Alias     string
	Seq       int64
	Result    string
	Summary   string
	CreatedAt time.Time
}

// Turn é um turno de sessão persistido.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store encapsula o banco. Escritas são serializadas internamente;
// leituras concorrentes são livres (WAL).
type Store struct {
	db *sql.DB

	// writeMu serializa escritas. SQLite tem um único escritor e o
	// invariante de seq monotônico por job exige read-then-write atômico.
	writeMu sync.Mutex
}

// Open abre (ou cria) o taskclaw.db no caminho dado, com WAL habilitado.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory abre um banco em memória, útil em testes.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	// Conexão única: cada conexão :memory: veria um banco distinto.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close fecha o banco.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append grava uma entrada de memória com o próximo seq do job.
// Retorna o seq atribuído.
func (s *Store) Append(alias, result, summary string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM runs WHERE job_alias = ?`, alias,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq for %q: %w", alias, err)
	}

	_, err = tx.Exec(
		`INSERT INTO runs (job_alias, seq, result, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		alias, seq, result, summary, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("append run for %q: %w", alias, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

// Recent devolve até n entradas do job, da mais recente para a mais antiga.
func (s *Store) Recent(alias string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT seq, result, summary, created_at FROM runs
		 WHERE job_alias = ? ORDER BY seq DESC LIMIT ?`, alias, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent runs for %q: %w", alias, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows, alias)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NthFromEnd devolve a entrada n posições atrás da mais recente
// (n=0 é a mais recente). ErrNotFound quando o job tem menos de n+1
// entradas.
func (s *Store) NthFromEnd(alias string, n int) (Entry, error) {
	if n < 0 {
		return Entry{}, fmt.Errorf("store: negative offset %d", n)
	}
	row := s.db.QueryRow(
		`SELECT seq, result, summary, created_at FROM runs
		 WHERE job_alias = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`, alias, n,
	)
	e, err := scanEntry(row, alias)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// PushTurn grava um turno e aplica a janela FIFO: acima de window pares
// mensagem/resposta (2*window turnos), os mais antigos são removidos.
// window <= 0 desabilita retenção (o turno não é gravado).
func (s *Store) PushTurn(alias, sessionKey, role, content string, window int) error {
	if window <= 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin push turn: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO session_turns (job_alias, session_key, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		alias, sessionKey, role, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("push turn for %q: %w", alias, err)
	}

	// Evicção FIFO: mantém apenas os 2*window turnos mais recentes.
	_, err = tx.Exec(
		`DELETE FROM session_turns
		 WHERE job_alias = ? AND session_key = ?
		   AND id NOT IN (
		     SELECT id FROM session_turns
		     WHERE job_alias = ? AND session_key = ?
		     ORDER BY id DESC LIMIT ?
		   )`,
		alias, sessionKey, alias, sessionKey, 2*window,
	)
	if err != nil {
		return fmt.Errorf("evict turns for %q: %w", alias, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push turn: %w", err)
	}
	return nil
}

// SessionTurns devolve os turnos da sessão, do mais antigo ao mais recente.
func (s *Store) SessionTurns(alias, sessionKey string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT role, content, created_at FROM session_turns
		 WHERE job_alias = ? AND session_key = ? ORDER BY id ASC`,
		alias, sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("session turns for %q: %w", alias, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune remove entradas além de maxPerJob por job e turnos mais antigos
// que maxAgeDays. Executado no início do daemon.
func (s *Store) Prune(maxPerJob, maxAgeDays int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if maxPerJob > 0 {
		_, err := s.db.Exec(
			`DELETE FROM runs WHERE id IN (
			   SELECT r.id FROM runs r
			   WHERE (SELECT COUNT(*) FROM runs r2
			          WHERE r2.job_alias = r.job_alias AND r2.seq > r.seq) >= ?
			 )`, maxPerJob,
		)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
	}

	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339)
		_, err := s.db.Exec(`DELETE FROM session_turns WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune session turns: %w", err)
		}
	}
	return nil
}

// rowScanner cobre sql.Row e sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, alias string) (Entry, error) {
	var e Entry
	var created string
	if err := row.Scan(&e.Seq, &e.Result, &e.Summary, &created); err != nil {
		return Entry{}, err
	}
	e.Alias = alias
	e.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return e, nil
}
