package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"osmlevels/internal/config"
	"osmlevels/internal/domain/repositories"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	"osmlevels/internal/repository/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

//go:embed demo.yaml
var demoTrees []byte

func main() {
	file := flag.String("file", "", "YAML file with trees to seed (defaults to the built-in demo)")
	tree := flag.String("tree", "", "Only seed the tree with this id")
	generate := flag.String("generate", "", "Seed a generated tree with this id instead of a file")
	fanout := flag.Int("fanout", 12, "Children per level for -generate")
	depth := flag.Int("depth", 4, "Levels for -generate")
	clearData := flag.Bool("clear", false, "Delete existing rows of each seeded tree first")
	dropTables := flag.Bool("drop-tables", false, "Drop the levels and cache tables before seeding (fresh start)")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Environment == "prod" && (*clearData || *dropTables) {
		log.Fatalf("BLOCKED: cannot run -clear or -drop-tables in production environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var trees []seedTree
	switch {
	case *generate != "":
		trees = []seedTree{generateTree(*generate, *fanout, *depth)}
	default:
		data := demoTrees
		if *file != "" {
			b, err := os.ReadFile(*file)
			if err != nil {
				log.Fatalf("Failed to read %s: %v", *file, err)
			}
			data = b
		}
		parsed, err := parseTrees(data)
		if err != nil {
			log.Fatalf("Failed to parse trees: %v", err)
		}
		trees = filterTrees(parsed, *tree)
	}
	if len(trees) == 0 {
		log.Fatalf("Nothing to seed")
	}

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if *dropTables {
		if err := dropAll(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Printf("Tables dropped (prefix: %s)", cfg.TablePrefix)
	}

	source := postgres.NewLevelSource(&postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	})
	if err := source.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	txManager := postgres.NewTransactionManager(pool)

	log.Printf("Seeding %d tree(s) (environment: %s, prefix: %s)", len(trees), cfg.Environment, cfg.TablePrefix)
	for _, t := range trees {
		if err := seed(ctx, txManager, source, t, *clearData); err != nil {
			log.Fatalf("Failed to seed %s: %v", t.ID, err)
		}
	}
	log.Println("Seeding complete")
}

func seed(ctx context.Context, tx repositories.TransactionManager, source *postgres.PostgresLevelSource, t seedTree, clear bool) error {
	nodes := t.flatten()
	return tx.ExecTx(ctx, func(ctx context.Context) error {
		if clear {
			n, err := source.DeleteTree(ctx, t.ID)
			if err != nil {
				return err
			}
			log.Printf("Cleared %d levels from %s", n, t.ID)
		}
		for _, n := range nodes {
			if err := source.InsertLevel(ctx, t.ID, n); err != nil {
				return err
			}
		}
		log.Printf("Seeded %s: %d levels", t.ID, len(nodes))
		return nil
	})
}

// dropAll removes the levels table and every cache table
func dropAll(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	names := []string{tables.Levels}
	for _, t := range repo.Tables {
		names = append(names, tables.Cache(t))
	}
	for _, name := range names {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+name+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

func filterTrees(trees []seedTree, id string) []seedTree {
	if id == "" {
		return trees
	}
	for _, t := range trees {
		if t.ID == id {
			return []seedTree{t}
		}
	}
	fmt.Fprintf(os.Stderr, "tree %q not found in seed file\n", id)
	return nil
}
