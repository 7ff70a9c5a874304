// Command kvs is a peripheral CLI over the kvs engine: get/set/rm against
// the store rooted at the current directory, matching the get/set/rm
// contract the engine was originally specified against.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nullvariable/kvs"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  kvs get <KEY>")
	fmt.Fprintln(os.Stderr, "  kvs set <KEY> <VALUE>")
	fmt.Fprintln(os.Stderr, "  kvs rm <KEY>")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvs: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get":
		if len(os.Args) != 3 {
			usage()
		}
		runGet(cwd, os.Args[2])
	case "set":
		if len(os.Args) != 4 {
			usage()
		}
		runSet(cwd, os.Args[2], os.Args[3])
	case "rm":
		if len(os.Args) != 3 {
			usage()
		}
		runRemove(cwd, os.Args[2])
	default:
		usage()
	}
}

func openStore(path string) *kvs.DefaultEngine {
	store, err := kvs.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvs: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runGet(path, key string) {
	store := openStore(path)
	defer store.Close()

	value, ok, err := store.Get(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvs: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("Key not found")
		return
	}
	fmt.Println(value)
}

func runSet(path, key, value string) {
	store := openStore(path)
	defer store.Close()

	if err := store.Set(key, value); err != nil {
		fmt.Fprintf(os.Stderr, "kvs: %v\n", err)
		os.Exit(1)
	}
}

func runRemove(path, key string) {
	store := openStore(path)
	defer store.Close()

	err := store.Remove(key)
	if err == nil {
		return
	}
	if errors.Is(err, kvs.ErrKeyNotFound) {
		fmt.Println("Key not found")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "kvs: %v\n", err)
	os.Exit(1)
}
