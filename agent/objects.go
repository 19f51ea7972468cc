package main

// #include <link.h>
// #include <stdlib.h>
// #include <string.h>
//
// struct go_phdr {
//   unsigned long long vaddr;
//   unsigned long long memsize;
// };
//
// struct go_object {
//   char *path;
//   unsigned long long bias;
//   struct go_phdr *phdrs;
//   int nphdrs;
// };
//
// struct go_object_list {
//   struct go_object *objects;
//   int n;
//   int cap;
// };
//
// static int go_phdr_callback(struct dl_phdr_info *info, size_t size, void *data) {
//   struct go_object_list *list = (struct go_object_list *)data;
//   if (list->n == list->cap) {
//     int newcap = list->cap ? list->cap * 2 : 16;
//     list->objects = realloc(list->objects, (size_t)newcap * sizeof(struct go_object));
//     list->cap = newcap;
//   }
//   struct go_object *obj = &list->objects[list->n++];
//   const char *name = info->dlpi_name;
//   obj->path = strdup(name && name[0] ? name : "/proc/self/exe");
//   obj->bias = (unsigned long long)info->dlpi_addr;
//   obj->phdrs = malloc((size_t)info->dlpi_phnum * sizeof(struct go_phdr));
//   obj->nphdrs = 0;
//   for (int i = 0; i < info->dlpi_phnum; i++) {
//     if (info->dlpi_phdr[i].p_type == PT_LOAD) {
//       struct go_phdr *p = &obj->phdrs[obj->nphdrs++];
//       p->vaddr = info->dlpi_phdr[i].p_vaddr;
//       p->memsize = info->dlpi_phdr[i].p_memsz;
//     }
//   }
//   return 0;
// }
//
// static struct go_object_list go_gather_objects(void) {
//   struct go_object_list list;
//   list.objects = NULL;
//   list.n = 0;
//   list.cap = 0;
//   dl_iterate_phdr(go_phdr_callback, &list);
//   return list;
// }
//
// static void go_free_objects(struct go_object_list list) {
//   for (int i = 0; i < list.n; i++) {
//     free(list.objects[i].path);
//     free(list.objects[i].phdrs);
//   }
//   free(list.objects);
// }
import "C"

import (
	"os"
	"unsafe"

	"go.rustkcov.dev/rustkcov/internal/wire"
)

// gatherObjects enumerates every object currently mapped into this
// process via dl_iterate_phdr, reporting only its PT_LOAD segments,
// directly grounded on original_source/inject/src/lib.rs's gather_phdrs:
// the same callback-into-a-growable-vector shape, translated from a Rust
// extern "C" callback into the equivalent C helper in the cgo preamble.
func gatherObjects() ([]wire.ObjectInfo, error) {
	pid := os.Getpid()

	list := C.go_gather_objects()
	defer C.go_free_objects(list)

	n := int(list.n)
	objs := make([]wire.ObjectInfo, 0, n)

	cObjs := unsafe.Slice(list.objects, n)
	for i := 0; i < n; i++ {
		co := cObjs[i]
		path := C.GoString(co.path)

		nphdrs := int(co.nphdrs)
		cPhdrs := unsafe.Slice(co.phdrs, nphdrs)
		phdrs := make([]wire.PHdr, nphdrs)
		for j := 0; j < nphdrs; j++ {
			phdrs[j] = wire.PHdr{
				Vaddr:   uint64(cPhdrs[j].vaddr),
				Memsize: uint64(cPhdrs[j].memsize),
			}
		}

		objs = append(objs, wire.ObjectInfo{
			Pid:   uint32(pid),
			Path:  path,
			Bias:  uint64(co.bias),
			PHdrs: phdrs,
		})
	}

	return objs, nil
}
