package main

import (
	"chatgogo/messenger/internal/models"
	"fmt"
	"io"
	"iter"
	"strings"
	"text/tabwriter"
)

const timeLayout = "2006-01-02 15:04"

// describe renders the body of a message as one line of text.
func describe(m models.Message) string {
	if m.DeletedForViewer {
		return "(deleted)"
	}
	var parts []string
	if m.Content != "" {
		parts = append(parts, strings.ReplaceAll(m.Content, "\n", " "))
	}
	if m.Attachment != nil {
		label := "file"
		if m.Kind == models.KindImage {
			label = "image"
		}
		parts = append(parts, fmt.Sprintf("[%s: %s %s]", label, m.Attachment.FileName, m.Attachment.FileURL))
	}
	if m.IsBestReply {
		parts = append(parts, "★ best reply")
	}
	return strings.Join(parts, " ")
}

func formatLine(m models.Message) string {
	return fmt.Sprintf("#%d %s %s: %s", m.ID, m.CreatedAt.UTC().Format(timeLayout), m.SenderID, describe(m))
}

// printMessages writes one aligned row per message.
func printMessages(w io.Writer, msgs iter.Seq[models.Message]) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSENDER\tKIND\tMESSAGE")
	n := 0
	for m := range msgs {
		n++
		id := "-"
		if m.Confirmed() {
			id = fmt.Sprintf("%d", m.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, m.CreatedAt.UTC().Format(timeLayout), m.SenderID, m.Kind, describe(m))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(w, "No messages.")
	}
	return nil
}
