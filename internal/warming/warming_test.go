package warming

import (
	"context"
	"fmt"
	"testing"

	"github.com/mtoivanen/librarian/internal/book"
	"github.com/mtoivanen/librarian/internal/orchestrator"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// fakeResolver records warming traffic and scripts per-author catalogs.
type fakeResolver struct {
	catalogs map[string]book.WorksCatalog
	worksErr map[string]error
	resolved []string
}

func (f *fakeResolver) Resolve(ctx context.Context, lookup book.Lookup) (orchestrator.Result, error) {
	f.resolved = append(f.resolved, lookup.Identifier)
	return orchestrator.Result{}, nil
}

func (f *fakeResolver) AuthorWorks(ctx context.Context, author string) (book.WorksCatalog, error) {
	if err := f.worksErr[author]; err != nil {
		return book.WorksCatalog{}, err
	}
	return f.catalogs[author], nil
}

func workWithISBN(title, isbn string) book.CanonicalRecord {
	return book.CanonicalRecord{
		Title:           title,
		NormalizedTitle: book.NormalizeTitle(title),
		Identifiers:     map[string]string{book.SchemeISBN13: isbn},
	}
}

func TestWarmOnceResolvesWorksByIdentifier(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	resolver := &fakeResolver{catalogs: map[string]book.WorksCatalog{
		"Andy Weir": {Works: []book.CanonicalRecord{
			workWithISBN("The Martian", "9780345391803"),
			workWithISBN("Artemis", "9780553448122"),
			{Title: "Untracked Short", NormalizedTitle: "untracked short"},
		}},
	}}

	w := New(resolver, []string{"Andy Weir"})
	w.WarmOnce(context.Background())

	require.Equal(t, []string{"9780345391803", "9780553448122"}, resolver.resolved)
}

func TestWarmOnceHonorsPerAuthorBound(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("warming.worksperauthor", 2)

	works := make([]book.CanonicalRecord, 0, 5)
	for i := 0; i < 5; i++ {
		works = append(works, workWithISBN(
			fmt.Sprintf("Book %d", i), fmt.Sprintf("978000000000%d", i)))
	}
	resolver := &fakeResolver{catalogs: map[string]book.WorksCatalog{
		"Prolific Author": {Works: works},
	}}

	w := New(resolver, []string{"Prolific Author"})
	w.WarmOnce(context.Background())

	require.Len(t, resolver.resolved, 2)
}

func TestWarmOnceSkipsFailingAuthor(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	resolver := &fakeResolver{
		catalogs: map[string]book.WorksCatalog{
			"Andy Weir": {Works: []book.CanonicalRecord{workWithISBN("The Martian", "9780345391803")}},
		},
		worksErr: map[string]error{
			"Broken Author": fmt.Errorf("discovery failed: %w", book.ErrProviderUnavailable),
		},
	}

	w := New(resolver, []string{"Broken Author", "Andy Weir"})
	w.WarmOnce(context.Background())

	require.Equal(t, []string{"9780345391803"}, resolver.resolved)
}
