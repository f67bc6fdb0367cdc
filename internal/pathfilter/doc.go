// Package pathfilter decides which files in a project are eligible for
// indexing.
//
// A file is eligible when it is not matched by the project ignore list, not
// excluded by any .gitignore on its path, not larger than the size cap, not
// a symlink and not binary. Eligible files are enumerated by Walk in lexical
// path order.
//
// Usage:
//
//	list, _ := pathfilter.LoadIgnoreList(filepath.Join(root, ".repoindex-ignore"))
//	f, _ := pathfilter.New(root, pathfilter.Options{Patterns: list.Patterns()})
//	files, errs := f.Walk(ctx)
package pathfilter
