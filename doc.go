// Package buildstore provides a content-addressed object store for build
// artifacts.
//
// Objects are immutable files (blobs) or directory trees, stored under
// their content identity. Refs are mutable names pointing at objects.
// Any number of processes may share one store root: objects appear only
// through atomic renames, so a reader never sees a partial object, and
// concurrent writers of the same content converge on a single copy.
//
// Basic usage:
//
//	s, _ := buildstore.Open("/var/cache/builds")
//	defer s.Close()
//
//	// Store content
//	id, _ := s.PutBytes(ctx, []byte("hello"))
//
//	// Store a build output directory
//	tree, _ := s.PutPath(ctx, "./out")
//
//	// Retrieve content
//	data, _ := s.ReadBlob(id)
//	obj, _ := s.Get(tree)
//	fmt.Println(obj.Path, obj.Size)
//
//	// Name it
//	s.RefSet("myproject/main", tree)
//	id, _ = s.RefGet("myproject/main")
//
// Writing directly into the store:
//
//	h, _ := s.Begin()
//	os.WriteFile(h.ContentPath(), data, 0o644)
//	id, _ := s.Commit(ctx, h)
//
// Maintenance:
//
//	removed, _ := s.Sweep(24 * time.Hour) // reclaim abandoned staging dirs
//	problems, _ := s.Fsck(ctx)            // verify every object
//	for id, err := range s.Objects() { ... }
package buildstore
