// Command gofatutil exercises the gofat library from the shell: list a
// directory, dump a file's contents, or format a fresh image.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatfsio/gofat"
	"github.com/spf13/afero"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error
	switch cmd {
	case "ls":
		err = runLs(os.Args[2], argOr(os.Args, 3, "/"))
	case "cat":
		err = runCat(os.Args[2], argOr(os.Args, 3, ""))
	case "mkfs":
		err = runMkfs(os.Args[2], argOr(os.Args, 3, ""))
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "gofatutil:", err)
		os.Exit(1)
	}
}

func argOr(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  gofatutil ls <image> [path]")
	fmt.Fprintln(os.Stderr, "  gofatutil cat <image> <path>")
	fmt.Fprintln(os.Stderr, "  gofatutil mkfs <image> [label]")
}

func runLs(image, dir string) error {
	f, err := os.Open(image)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := gofat.DefaultOptions()
	opts.ReadOnly = true
	fat, err := gofat.NewWithOptions(f, opts)
	if err != nil {
		return err
	}
	defer fat.Close()

	entries, err := afero.ReadDir(fat, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d %s %s\n", kind, e.Size(), e.ModTime().Format("2006-01-02 15:04:05"), e.Name())
	}
	return nil
}

func runCat(image, path string) error {
	f, err := os.Open(image)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := gofat.DefaultOptions()
	opts.ReadOnly = true
	fat, err := gofat.NewWithOptions(f, opts)
	if err != nil {
		return err
	}
	defer fat.Close()

	file, err := fat.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(os.Stdout, file)
	return err
}

func runMkfs(image, label string) error {
	f, err := os.OpenFile(image, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return gofat.Format(f, info.Size(), gofat.FormatOptions{Label: label})
}
