// Command seed loads a starter catalog into the books table. Books whose
// code already exists are skipped, so it is safe to run repeatedly.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rliang/library-server/internal/config"
	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/repository"
)

var catalog = []models.Book{
	{BookID: "B001", Title: "1984", Author: "George Orwell", Stock: 3},
	{BookID: "B002", Title: "Animal Farm", Author: "George Orwell", Stock: 3},
	{BookID: "B003", Title: "The Art of War", Author: "Sun Tzu", Stock: 2},
	{BookID: "B004", Title: "The Fellowship of the Ring", Author: "J.R.R. Tolkien", Stock: 4},
	{BookID: "B005", Title: "The Two Towers", Author: "J.R.R. Tolkien", Stock: 4},
	{BookID: "B006", Title: "The Return of the King", Author: "J.R.R. Tolkien", Stock: 4},
	{BookID: "B007", Title: "Romeo and Juliet", Author: "William Shakespeare", Stock: 2},
	{BookID: "B008", Title: "The Three Musketeers", Author: "Alexandre Dumas", Stock: 2},
	{BookID: "B009", Title: "Dune", Author: "Frank Herbert", Stock: 5},
	{BookID: "B010", Title: "The Diary of a Young Girl", Author: "Anne Frank", Stock: 2},
}

func main() {
	godotenv.Load()
	cfg := config.LoadConfig()

	db, err := config.SetupDatabase(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db)
	ctx := context.Background()

	existing, err := repo.GetAllBooks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
		os.Exit(1)
	}

	known := make(map[string]bool, len(existing))
	for _, b := range existing {
		known[b.BookID] = true
	}

	imported := 0
	for _, book := range catalog {
		if known[book.BookID] {
			fmt.Printf("Skipping %s (%s), already present\n", book.BookID, book.Title)
			continue
		}

		b := book
		if err := repo.CreateBook(ctx, &b); err != nil {
			fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", book.Title, err)
			continue
		}
		fmt.Printf("Imported: %s by %s\n", book.Title, book.Author)
		imported++
	}

	fmt.Printf("Done. %d book(s) imported.\n", imported)
}
