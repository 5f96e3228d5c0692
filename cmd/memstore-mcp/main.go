// Command memstore-mcp is an MCP server that gives Claude (or any MCP client)
// persistent, searchable, decaying memory backed by SQLite with hybrid
// FTS5 + vector search, a typed fact-link graph, and auto-capture.
//
// Usage:
//
//	memstore-mcp [flags]
//
// Flags:
//
//	--db           Path to SQLite database (default: ~/.local/share/memstore/memory.db)
//	--ollama       Ollama base URL (default: http://localhost:11434)
//	--embed-model  Embedding model name (default: embeddinggemma)
//	--chat-model   Chat model name used for every tier (default: llama3.2)
//	--no-chat      Disable the chat model (classification, reflection, and
//	               over-budget summarization degrade to their fallbacks)
//
// The server communicates over stdio using newline-delimited JSON-RPC
// (the MCP stdio transport). Register it with Claude Code via:
//
//	claude mcp add memstore -s user -- /path/to/memstore-mcp [flags]
//
// This stores the config in ~/.claude.json at user scope so it is
// available in all projects.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/matthewjhunter/memstore"
	"github.com/matthewjhunter/memstore/coordinator"
	"github.com/matthewjhunter/memstore/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"
)

func main() {
	dbPath := flag.String("db", defaultDBPath(), "path to SQLite database")
	ollamaURL := flag.String("ollama", "http://localhost:11434", "Ollama base URL")
	embedModel := flag.String("embed-model", "embeddinggemma", "embedding model name")
	chatModel := flag.String("chat-model", "llama3.2", "chat model name used for every tier")
	noChat := flag.Bool("no-chat", false, "disable the chat model")
	flag.Parse()

	// Log to stderr to keep stdout clean for MCP JSON-RPC.
	log.SetOutput(os.Stderr)
	logger := log.Default()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0700); err != nil {
		log.Fatalf("creating db directory: %v", err)
	}

	db, err := sql.Open("sqlite", *dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	// Single connection for WAL mode correctness with memstore's mutex.
	db.SetMaxOpenConns(1)

	facts, err := memstore.NewSQLiteFactStore(db)
	if err != nil {
		log.Fatalf("initializing fact store: %v", err)
	}
	vectors, err := memstore.NewSQLiteVectorStore(db, true)
	if err != nil {
		log.Fatalf("initializing vector store: %v", err)
	}

	embedder := memstore.NewOllamaEmbedder(*ollamaURL, *embedModel)

	var chat memstore.ChatModel
	if !*noChat {
		chat = memstore.NewOllamaChatModel(*ollamaURL, map[memstore.ChatTier]string{
			memstore.ChatTierNano:    *chatModel,
			memstore.ChatTierDefault: *chatModel,
			memstore.ChatTierHeavy:   *chatModel,
		})
	}

	walPath := filepath.Join(filepath.Dir(*dbPath), "memstore.wal.jsonl")
	cfg := memstore.DefaultConfig(walPath)

	eng, err := coordinator.New(cfg, facts, vectors, embedder, chat, logger)
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("starting engine: %v", err)
	}
	defer eng.Stop()

	memorySrv := mcpserver.NewMemoryServer(eng)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "memstore",
		Version: "0.1.0",
	}, nil)

	memorySrv.Register(server)

	log.Printf("memstore-mcp starting (db=%s, embed-model=%s, chat=%v)", *dbPath, *embedModel, chat != nil)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// defaultDBPath returns ~/.local/share/memstore/memory.db, following the
// XDG Base Directory Specification for user data.
func defaultDBPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "memstore", "memory.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot determine home directory: %v\n", err)
		return "memory.db"
	}
	return filepath.Join(home, ".local", "share", "memstore", "memory.db")
}
