package cmd

import (
	"os"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetCmdState(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
}

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	originalArgs := os.Args
	os.Args = append([]string{"librarian"}, args...)
	t.Cleanup(func() { os.Args = originalArgs })

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("librarian"),
		kong.Description("Book metadata lookup service with a durable enrichment queue."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)

	return cli, ctx
}

func TestServeCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "serve", "-l", ":9090", "--workers", "8")

	assert.Equal(t, ":9090", cli.Serve.Listen)
	assert.Equal(t, 8, cli.Serve.Workers)
}

func TestImportCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "import", "-f", "library_export.csv")

	assert.Equal(t, "library_export.csv", cli.Import.Input)
}

func TestWarmCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "warm", "-a", "Andy Weir", "-a", "Agatha Christie")

	assert.Equal(t, []string{"Andy Weir", "Agatha Christie"}, cli.Warm.Authors)
}

func TestCacheInvalidateCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "cache", "invalidate", "works:andy weir")

	assert.Equal(t, "works:andy weir", cli.Cache.Invalidate.Prefix)
}

func TestCLIDefaultFlags(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "serve")

	assert.Equal(t, "./cache.db", cli.CacheDBFile, "CacheDBFile should default to ./cache.db")
	assert.Equal(t, "./queue.db", cli.QueueDBFile, "QueueDBFile should default to ./queue.db")
	assert.Equal(t, ":8080", cli.Serve.Listen, "Listen should default to :8080")
	assert.Zero(t, cli.Serve.Workers, "Workers should default to unset")
}

func TestUpdateGlobalConfigSetsViperValues(t *testing.T) {
	resetCmdState(t)

	cli := &CLI{
		CacheDBFile: "/tmp/cache.db",
		QueueDBFile: "/tmp/queue.db",
	}

	updateGlobalConfig(cli)

	assert.Equal(t, "/tmp/cache.db", viper.GetString("cache.dbfile"))
	assert.Equal(t, "/tmp/queue.db", viper.GetString("queue.dbfile"))
}

func TestWarmCommandRequiresAuthors(t *testing.T) {
	resetCmdState(t)

	cli, ctx := parseCLI(t, "warm")
	err := ctx.Run(cli)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authors to warm")
}

func TestEnvironmentVariableBinding(t *testing.T) {
	resetCmdState(t)

	t.Setenv("ISBNDB_API_KEY", "test-isbndb-key")
	t.Setenv("GOOGLE_BOOKS_API_KEY", "test-google-key")

	viper.AutomaticEnv()
	require.NoError(t, viper.BindEnv("ISBNdbAPIKey", "ISBNDB_API_KEY"))
	require.NoError(t, viper.BindEnv("GoogleBooksAPIKey", "GOOGLE_BOOKS_API_KEY"))

	assert.Equal(t, "test-isbndb-key", viper.GetString("ISBNdbAPIKey"))
	assert.Equal(t, "test-google-key", viper.GetString("GoogleBooksAPIKey"))
}

func TestInitLogging(t *testing.T) {
	require.NotPanics(t, initLogging)
}
