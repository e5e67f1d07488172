package main

import (
	"chatgogo/messenger/internal/config"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/storage"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  show <participant_id>
  set-role <participant_id> <role|->
  set-departments <participant_id> <dept,dept,...>
  purge-message <message_id>`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	config.LoadDotEnv()
	cfg, err := config.Load(os.Getenv("CHATGOGO_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	var dialector gorm.Dialector
	if cfg.Server.SQLitePath != "" {
		dialector = sqlite.Open(cfg.Server.SQLitePath)
	} else {
		dialector = postgres.Open(cfg.Server.DatabaseDSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI
	if err := storageSvc.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	if err := dispatch(storageSvc, os.Stdout, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(usage)
			os.Exit(1)
		}
		log.Fatalf("Error: %v", err)
	}
}

var errUsage = errors.New("usage")

func dispatch(s storage.Storage, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "show":
		if len(args) != 2 {
			return errUsage
		}
		return showParticipant(s, out, args[1])
	case "set-role":
		if len(args) != 3 {
			return errUsage
		}
		role := args[2]
		if role == "-" {
			role = ""
		}
		if err := updateParticipant(s, args[1], func(p *models.ParticipantRecord) { p.Role = role }); err != nil {
			return err
		}
		fmt.Fprintf(out, "Participant %s role set to %q.\n", args[1], role)
	case "set-departments":
		if len(args) != 3 {
			return errUsage
		}
		depts := splitList(args[2])
		if err := updateParticipant(s, args[1], func(p *models.ParticipantRecord) { p.Departments = depts }); err != nil {
			return err
		}
		fmt.Fprintf(out, "Participant %s departments: %s.\n", args[1], strings.Join(depts, ", "))
	case "purge-message":
		if len(args) != 2 {
			return errUsage
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}
		if err := s.DeleteMessage(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Message %d has been purged.\n", id)
	default:
		return errUsage
	}
	return nil
}

func showParticipant(s storage.Storage, out io.Writer, id string) error {
	p, err := s.GetParticipant(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("participant %s not found", id)
	}
	fmt.Fprintf(out, "id:          %s\nname:        %s\nrole:        %s\ndepartments: %s\n",
		p.ID, p.DisplayName, p.Role, strings.Join(p.Departments, ", "))
	return nil
}

// updateParticipant creates the directory entry when it does not exist yet.
func updateParticipant(s storage.Storage, id string, change func(*models.ParticipantRecord)) error {
	p, err := s.GetParticipant(id)
	if err != nil {
		return err
	}
	if p == nil {
		p = &models.ParticipantRecord{ID: id}
	}
	change(p)
	return s.SaveParticipant(p)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
