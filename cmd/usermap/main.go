// Command usermap 管理发送会议纪要用的参与者目录：显示名到聊天用户 id 的映射。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/meeting-copilot/backend/internal/store"
)

const defaultDBPath = "data/directory.db"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	dbPath := strings.TrimSpace(os.Getenv("DIRECTORY_DB_PATH"))
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	dir, err := store.NewSQLiteDirectory(dbPath)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer dir.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd {
	case "add":
		err = cmdAdd(ctx, dir, args)
	case "list":
		err = cmdList(ctx, dir)
	case "remove", "rm":
		err = cmdRemove(ctx, dir, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		err = errors.New("unknown command")
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		dir.Close()
		os.Exit(1)
	}
}

func cmdAdd(ctx context.Context, dir *store.SQLiteDirectory, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: usermap add <display name> <chat user id>")
	}
	// 名字可以包含空格，最后一个参数是用户 ID。
	name := strings.Join(args[:len(args)-1], " ")
	userID := args[len(args)-1]

	if err := dir.Upsert(ctx, name, userID); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("Mapped %q -> %s\n", name, userID)
	return nil
}

func cmdList(ctx context.Context, dir *store.SQLiteDirectory) error {
	mappings, err := dir.List(ctx)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		color.New(color.FgYellow).Println("No mappings yet. Add one with: usermap add <name> <user id>")
		return nil
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%d mapping(s)\n\n", len(mappings))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHAT USER\tUPDATED")
	for _, m := range mappings {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.DisplayName, m.ChatUserID, m.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func cmdRemove(ctx context.Context, dir *store.SQLiteDirectory, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: usermap remove <display name>")
	}
	name := strings.Join(args, " ")

	if err := dir.Delete(ctx, name); err != nil {
		if errors.Is(err, store.ErrMappingNotFound) {
			return fmt.Errorf("no mapping for %q", name)
		}
		return err
	}

	color.New(color.FgGreen).Printf("Removed %q\n", name)
	return nil
}

func printUsage() {
	fmt.Println(`usermap - participant directory admin

Usage:
  usermap add <display name> <chat user id>   Create or replace a mapping
  usermap list                                 List all mappings
  usermap remove <display name>                Delete a mapping

Environment:
  DIRECTORY_DB_PATH   SQLite file (default data/directory.db)`)
}
