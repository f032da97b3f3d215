package vmm

import (
	"sort"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/mm"
)

// MaxAddressSpaces bounds the number of independent address spaces
// (ASIDs) that can be live at any one time. Chosen as a small, fixed pool
// per the ASID allocation policy: first-fit over a fixed-size table rather
// than an unbounded, dynamically-growing one.
const MaxAddressSpaces = 16

// userSpaceStart is the lowest virtual address considered part of a task's
// user-mappable region; allocate_data_pages never places a region below it.
// It sits well below the kernel's canonical higher-half mapping and below
// tempMappingAddr's recursive range.
const userSpaceStart = uintptr(0x0000000000400000)

// userSpaceEnd bounds the user-mappable region from above. It stays clear
// of the non-canonical gap and the recursive self-mapping window.
const userSpaceEnd = uintptr(0x0000700000000000)

var (
	errNoFreeAddressSpace = &kernel.Error{Module: "vmm", Message: "no free address space"}
	errRegionOverlap      = &kernel.Error{Module: "vmm", Message: "requested region overlaps an existing mapping"}
	errRegionNotFound     = &kernel.Error{Module: "vmm", Message: "no mapped region at the given address"}
	errAddressSpaceFull   = &kernel.Error{Module: "vmm", Message: "address space exhausted while searching for a free region"}
)

// region describes one mapped, non-overlapping extent of an AddressSpace's
// MemoryMap, in page units.
type region struct {
	startPage  mm.Page
	startFrame mm.Frame
	pageCount  uintptr
	flags      PageTableEntryFlag
}

func (r region) endPage() mm.Page { return r.startPage + mm.Page(r.pageCount) }

// MemoryMap is the sorted collection of mapped regions that belong to a
// single AddressSpace. Regions are kept sorted by start address so that
// overlap detection and free-gap search both run in O(log n).
type MemoryMap struct {
	regions []region
}

// indexAtOrAfter returns the index of the first region whose start is >=
// page, using binary search over the sorted region slice.
func (m *MemoryMap) indexAtOrAfter(page mm.Page) int {
	return sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].startPage >= page
	})
}

// overlaps reports whether [start, start+pageCount) intersects any existing
// region.
func (m *MemoryMap) overlaps(start mm.Page, pageCount uintptr) bool {
	end := start + mm.Page(pageCount)

	i := m.indexAtOrAfter(start)
	// The region immediately before i may still extend into [start, end).
	if i > 0 && m.regions[i-1].endPage() > start {
		return true
	}
	// The region at i may start before end.
	if i < len(m.regions) && m.regions[i].startPage < end {
		return true
	}
	return false
}

// insert records a new non-overlapping region, keeping regions sorted. The
// region is assumed to have been mapped to a contiguous frame run starting
// at startFrame (true of every region MapRegion installs).
func (m *MemoryMap) insert(start mm.Page, startFrame mm.Frame, pageCount uintptr, flags PageTableEntryFlag) {
	i := m.indexAtOrAfter(start)
	m.regions = append(m.regions, region{})
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = region{startPage: start, startFrame: startFrame, pageCount: pageCount, flags: flags}
}

// Regions returns a copy of the address space's tracked regions, used by
// clone_task to deep-copy memory maps without reaching into vmm internals.
func (m *MemoryMap) Regions() []Region {
	out := make([]Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = Region{VAddr: r.startPage.Address(), StartFrame: r.startFrame, PageCount: r.pageCount, Flags: r.flags}
	}
	return out
}

// Region is the exported, read-only view of a single mapped extent within
// an AddressSpace's MemoryMap.
type Region struct {
	VAddr      uintptr
	StartFrame mm.Frame
	PageCount  uintptr
	Flags      PageTableEntryFlag
}

// remove drops the region starting at start, if any, and reports whether
// one was found.
func (m *MemoryMap) remove(start mm.Page) bool {
	i := m.indexAtOrAfter(start)
	if i >= len(m.regions) || m.regions[i].startPage != start {
		return false
	}
	m.regions = append(m.regions[:i], m.regions[i+1:]...)
	return true
}

// findFreeGap returns the first page-aligned offset at or after hint (or at
// userSpaceStart if hint is zero) with room for pageCount free pages without
// overlapping any existing region, scanning the sorted region list once.
func (m *MemoryMap) findFreeGap(hint mm.Page, pageCount uintptr) (mm.Page, *kernel.Error) {
	if hint == 0 {
		hint = mm.PageFromAddress(userSpaceStart)
	}

	candidate := hint
	limit := mm.PageFromAddress(userSpaceEnd)

	i := m.indexAtOrAfter(candidate)
	for {
		var nextStart mm.Page
		if i < len(m.regions) {
			nextStart = m.regions[i].startPage
		} else {
			nextStart = limit
		}

		if candidate+mm.Page(pageCount) <= nextStart {
			return candidate, nil
		}
		if i >= len(m.regions) {
			return 0, errAddressSpaceFull
		}

		candidate = m.regions[i].endPage()
		i++
	}
}

// AddressSpace couples a page directory table with the MemoryMap that
// describes which regions of it are in use. Every task owns exactly one
// AddressSpace, identified by its ASID.
type AddressSpace struct {
	asid uint32
	pdt  PageDirectoryTable
	mm   MemoryMap
	free bool
}

// ASID returns the address space's identifier.
func (as *AddressSpace) ASID() uint32 { return as.asid }

// Switch activates this address space, making it the one the MMU
// translates against.
func (as *AddressSpace) Switch() { as.pdt.Activate() }

// MapRegion installs a mapping for pageCount consecutive pages starting at
// startFrame into the virtual range [vaddr, vaddr+pageCount*PageSize) and
// records it in the address space's MemoryMap. It fails with
// errRegionOverlap if any page in the requested range is already mapped.
func (as *AddressSpace) MapRegion(vaddr uintptr, startFrame mm.Frame, pageCount uintptr, flags PageTableEntryFlag) *kernel.Error {
	startPage := mm.PageFromAddress(vaddr)
	if as.mm.overlaps(startPage, pageCount) {
		return errRegionOverlap
	}

	frame := startFrame
	for page := startPage; page < startPage+mm.Page(pageCount); page, frame = page+1, frame+1 {
		if err := as.pdt.Map(page, frame, flags); err != nil {
			// Roll back whatever was mapped so far so the AddressSpace
			// never observes a partially-applied region.
			for rollback := startPage; rollback < page; rollback++ {
				_ = as.pdt.Unmap(rollback)
			}
			return err
		}
	}

	as.mm.insert(startPage, startFrame, pageCount, flags)
	return nil
}

// Regions returns a snapshot of the address space's mapped extents.
func (as *AddressSpace) Regions() []Region { return as.mm.Regions() }

// MapShared installs a mapping identical to MapRegion's bookkeeping but
// without allocating or copying any frame contents: it is used by
// clone_task to give a child task access to the same physical frames as its
// parent, typically with FlagCopyOnWrite set and FlagRW cleared on both
// sides so that a subsequent write to either copy triggers the page-fault
// handler's copy-on-write path.
func (as *AddressSpace) MapShared(r Region, flags PageTableEntryFlag) *kernel.Error {
	startPage := mm.PageFromAddress(r.VAddr)
	if as.mm.overlaps(startPage, r.PageCount) {
		return errRegionOverlap
	}

	frame := r.StartFrame
	for page := startPage; page < startPage+mm.Page(r.PageCount); page, frame = page+1, frame+1 {
		if err := as.pdt.Map(page, frame, flags); err != nil {
			for rollback := startPage; rollback < page; rollback++ {
				_ = as.pdt.Unmap(rollback)
			}
			return err
		}
	}

	as.mm.insert(startPage, r.StartFrame, r.PageCount, flags)
	return nil
}

// Remap changes the flags of an existing mapping in place (e.g. clearing
// FlagRW and setting FlagCopyOnWrite on a parent's region once a child has
// been given a CoW share of it).
func (as *AddressSpace) Remap(vaddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	startPage := mm.PageFromAddress(vaddr)
	i := as.mm.indexAtOrAfter(startPage)
	if i >= len(as.mm.regions) || as.mm.regions[i].startPage != startPage {
		return errRegionNotFound
	}
	r := as.mm.regions[i]

	frame := r.startFrame
	for page := r.startPage; page < r.endPage(); page, frame = page+1, frame+1 {
		if err := as.pdt.Map(page, frame, flags); err != nil {
			return err
		}
	}
	as.mm.regions[i].flags = flags
	return nil
}

// UnmapRegion removes the mapping previously installed by MapRegion at
// vaddr. It fails with errRegionNotFound if vaddr is not the start of a
// tracked region.
func (as *AddressSpace) UnmapRegion(vaddr uintptr) *kernel.Error {
	startPage := mm.PageFromAddress(vaddr)

	i := as.mm.indexAtOrAfter(startPage)
	if i >= len(as.mm.regions) || as.mm.regions[i].startPage != startPage {
		return errRegionNotFound
	}
	r := as.mm.regions[i]

	for page := r.startPage; page < r.endPage(); page++ {
		if err := as.pdt.Unmap(page); err != nil {
			return err
		}
	}

	as.mm.remove(startPage)
	return nil
}

// AllocateDataPages finds a free window of pageCount pages at or after
// vaddrHint (searching from userSpaceStart if vaddrHint is zero), maps it to
// freshly allocated physical frames with the given flags, and returns the
// virtual address the region was installed at.
func (as *AddressSpace) AllocateDataPages(vaddrHint uintptr, pageCount uintptr, flags PageTableEntryFlag) (uintptr, *kernel.Error) {
	startPage, err := as.mm.findFreeGap(mm.PageFromAddress(vaddrHint), pageCount)
	if err != nil {
		return 0, err
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return 0, err
	}

	if err := as.MapRegion(startPage.Address(), frame, 1, flags); err != nil {
		return 0, err
	}
	// The remaining pageCount-1 frames are allocated individually (rather
	// than requiring physically contiguous backing) since user data
	// regions have no DMA contiguity requirement.
	for i := uintptr(1); i < pageCount; i++ {
		f, err := mm.AllocFrame()
		if err != nil {
			_ = as.UnmapRegion(startPage.Address())
			return 0, err
		}
		if err := as.MapRegion((startPage + mm.Page(i)).Address(), f, 1, flags); err != nil {
			_ = as.UnmapRegion(startPage.Address())
			return 0, err
		}
	}

	return startPage.Address(), nil
}

// asidPool is the fixed-size table of address spaces the kernel hands out
// ASIDs from.
var asidPool [MaxAddressSpaces]AddressSpace

func init() {
	for i := range asidPool {
		asidPool[i].free = true
	}
}

// AllocateAddressSpace reserves a PDT frame, initializes a fresh page
// directory table for it, and returns the new AddressSpace from the first
// free slot in the fixed-size ASID pool. It fails with
// errNoFreeAddressSpace if the pool is exhausted.
func AllocateAddressSpace() (*AddressSpace, *kernel.Error) {
	slot := -1
	for i := range asidPool {
		if asidPool[i].free {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, errNoFreeAddressSpace
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &asidPool[slot]
	if err := as.pdt.Init(frame); err != nil {
		return nil, err
	}
	as.asid = uint32(slot)
	as.mm = MemoryMap{}
	as.free = false

	return as, nil
}

// FreeAddressSpace returns an AddressSpace's ASID to the pool. The caller
// must have already unmapped and released every region's backing frames;
// FreeAddressSpace only resets the pool bookkeeping.
func FreeAddressSpace(as *AddressSpace) {
	asidPool[as.asid].free = true
	asidPool[as.asid].mm = MemoryMap{}
}

// Translate returns the physical address that vaddr currently maps to
// within as, assuming as is the active address space. The recursive
// self-mapping scheme used by PageDirectoryTable only resolves translations
// for the table the MMU is currently pointed at, so callers translating on
// behalf of a task being dispatched into (the common case, from a trap
// taken while that task was running) always satisfy this.
func (as *AddressSpace) Translate(vaddr uintptr) (uintptr, *kernel.Error) {
	return translateFn(vaddr)
}
