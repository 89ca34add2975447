package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOARD (READ MODEL)
// ══════════════════════════════════════════════════════════════════════════════

// Board - снимок закешированных записей для чтения.
// Записи упорядочены по рангу; записи без ранга идут после ранжированных
// в порядке убывания счёта.
type Board struct {
	// Entries - записи в порядке ранга.
	Entries []Entry

	// MaxScore - максимальный рейтинг на доске (база нормализации).
	MaxScore float64

	// BuiltAt - время построения снимка.
	BuiltAt time.Time

	byID map[string]int
}

// NewBoard строит Board из записей хранилища.
func NewBoard(entries []Entry, builtAt time.Time) *Board {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return displayBefore(ordered[i], ordered[j])
	})

	b := &Board{Entries: ordered, BuiltAt: builtAt}
	b.RebuildIndex()
	return b
}

// RebuildIndex перестраивает индекс по UserID и MaxScore.
func (b *Board) RebuildIndex() {
	b.byID = make(map[string]int, len(b.Entries))
	b.MaxScore = 0
	for i, e := range b.Entries {
		b.byID[e.UserID] = i
		if e.Score > b.MaxScore {
			b.MaxScore = e.Score
		}
	}
}

// Get возвращает запись пользователя или nil.
func (b *Board) Get(userID string) *Entry {
	i, ok := b.byID[userID]
	if !ok {
		return nil
	}
	e := b.Entries[i]
	return &e
}

// Count возвращает количество записей.
func (b *Board) Count() int {
	return len(b.Entries)
}

// IsEmpty возвращает true, если на доске нет записей.
func (b *Board) IsEmpty() bool {
	return len(b.Entries) == 0
}

// SPI возвращает нормализованный счёт записи, округлённый до двух знаков.
func (b *Board) SPI(e Entry) float64 {
	return RoundScore(Normalize(e.Score, b.MaxScore))
}

// Top возвращает топ-N записей по рангу.
func (b *Board) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(b.Entries) {
		n = len(b.Entries)
	}
	out := make([]Entry, n)
	copy(out, b.Entries[:n])
	return out
}

// Neighbors возвращает соседей пользователя по рангу (±rangeSize),
// включая самого пользователя.
func (b *Board) Neighbors(userID string, rangeSize int) []Entry {
	idx, ok := b.byID[userID]
	if !ok {
		return nil
	}
	// Диапазон шире доски ничего не добавляет и не должен переполнять int.
	rangeSize = max(0, min(rangeSize, len(b.Entries)))
	from := max(0, idx-rangeSize)
	to := min(len(b.Entries), idx+rangeSize+1)
	out := make([]Entry, to-from)
	copy(out, b.Entries[from:to])
	return out
}

// Page - страница отфильтрованного и отсортированного лидерборда.
type Page struct {
	Items      []Entry
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// HasNext возвращает true, если есть следующая страница.
func (p Page) HasNext() bool {
	return p.Page < p.TotalPages
}

// Query применяет поиск, сортировку и пагинацию.
func (b *Board) Query(opts ListOptions) Page {
	if opts.Page < 1 {
		opts = opts.WithPage(1)
	}
	if opts.PageSize < 1 || opts.PageSize > MaxPageSize {
		opts = opts.WithPageSize(opts.PageSize)
	}
	if opts.SortBy == "" {
		opts.SortBy = SortByRank
	}

	filtered := b.filter(opts.Search)
	sortEntries(filtered, opts.SortBy, opts.Order)

	page := Page{
		Total:    len(filtered),
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}
	page.TotalPages = (page.Total + opts.PageSize - 1) / opts.PageSize

	from := opts.Offset()
	if from >= len(filtered) {
		page.Items = []Entry{}
		return page
	}
	to := from + opts.Limit()
	if to > len(filtered) {
		to = len(filtered)
	}
	page.Items = filtered[from:to]
	return page
}

func (b *Board) filter(search string) []Entry {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		if needle == "" || strings.Contains(strings.ToLower(e.Username), needle) {
			out = append(out, e)
		}
	}
	return out
}

// sortEntries сортирует записи, входящие в порядке ранга.
// Стабильная сортировка сохраняет порядок ранга для равных значений.
func sortEntries(entries []Entry, field SortField, order SortOrder) {
	desc := order == SortDesc

	var less func(a, b Entry) bool
	switch field {
	case SortByUsername:
		less = func(a, b Entry) bool { return strings.ToLower(a.Username) < strings.ToLower(b.Username) }
	case SortByScore:
		less = func(a, b Entry) bool { return a.Score < b.Score }
	case SortBySolved:
		less = func(a, b Entry) bool { return a.Solved < b.Solved }
	default:
		if desc {
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func displayBefore(a, b Entry) bool {
	switch {
	case a.IsRanked() && b.IsRanked():
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.UserID < b.UserID
	case a.IsRanked() != b.IsRanked():
		return a.IsRanked()
	default:
		return ranksBefore(a.Score, a.UserID, b.Score, b.UserID)
	}
}

// String возвращает строковое представление для логирования.
func (b *Board) String() string {
	return fmt.Sprintf("Board{Entries: %d, MaxScore: %.4f, BuiltAt: %s}",
		len(b.Entries), b.MaxScore, b.BuiltAt.Format(time.RFC3339))
}
