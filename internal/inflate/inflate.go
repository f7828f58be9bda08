// Package inflate is a from-scratch RFC 1951 (DEFLATE) decoder. The
// two-stage outer loader (cmd/stage0) cannot import compress/flate: its
// whole point is to carry as little of the Go runtime's standard library
// surface as the toolchain allows, issuing syscalls directly rather than
// through package os/exec. This is the one piece of "real" parsing logic
// it needs, so it gets a dependency-free implementation instead of
// compress/flate.
package inflate

import "errors"

// ErrCorrupt is returned for any structurally invalid DEFLATE stream:
// a bad block-type code, a Huffman code that doesn't resolve, a back
// reference pointing before the start of the output, or a stream that
// ends mid-block.
var ErrCorrupt = errors.New("inflate: corrupt deflate stream")

// maxAllocHint caps how much outSizeHint is trusted to pre-allocate.
// Callers pass this through from attacker-controlled trailer fields;
// an oversized or negative hint must not reach make() directly.
const maxAllocHint = 1 << 30

// lengthBase and lengthExtra give, per RFC 1951 §3.2.5, the base length
// and number of extra bits for length codes 257..285.
var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}
var lengthExtra = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// distBase and distExtra give the base distance and extra-bit count for
// distance codes 0..29.
var distBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}
var distExtra = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLenOrder is the order in which a dynamic block's code-length
// code lengths are transmitted.
var codeLenOrder = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// bitReader pulls bits LSB-first out of a byte slice, matching DEFLATE's
// bit order.
type bitReader struct {
	src   []byte
	pos   int
	bitbuf uint32
	nbits  uint
}

func (r *bitReader) ensure(n uint) error {
	for r.nbits < n {
		if r.pos >= len(r.src) {
			return ErrCorrupt
		}
		r.bitbuf |= uint32(r.src[r.pos]) << r.nbits
		r.pos++
		r.nbits += 8
	}
	return nil
}

func (r *bitReader) readBits(n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if err := r.ensure(n); err != nil {
		return 0, err
	}
	v := r.bitbuf & ((1 << n) - 1)
	r.bitbuf >>= n
	r.nbits -= n
	return v, nil
}

func (r *bitReader) alignToByte() {
	r.bitbuf = 0
	r.nbits = 0
}

// huffTree is a canonical Huffman decode table built from per-symbol
// code lengths, decoded one bit at a time (simple and small, which
// matters more here than raw inflate throughput).
type huffTree struct {
	counts [16]int
	symbols []int
}

func buildHuffTree(lengths []int) (*huffTree, error) {
	h := &huffTree{symbols: make([]int, len(lengths))}
	for _, l := range lengths {
		if l < 0 || l > 15 {
			return nil, ErrCorrupt
		}
		h.counts[l]++
	}
	h.counts[0] = 0

	offsets := [16]int{}
	for i := 1; i < 16; i++ {
		offsets[i] = offsets[i-1] + h.counts[i-1]
	}
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		h.symbols[offsets[l]] = sym
		offsets[l]++
	}
	return h, nil
}

func (h *huffTree) decode(r *bitReader) (int, error) {
	code := 0
	first := 0
	index := 0
	for l := 1; l < 16; l++ {
		bit, err := r.readBits(1)
		if err != nil {
			return 0, err
		}
		code |= int(bit)
		count := h.counts[l]
		if code-first < count {
			return h.symbols[index+(code-first)], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, ErrCorrupt
}

// Inflate decodes a raw DEFLATE stream (no zlib or gzip framing) and
// returns the uncompressed bytes. outSizeHint pre-allocates the output
// buffer; it need not be exact.
func Inflate(src []byte, outSizeHint int) ([]byte, error) {
	if outSizeHint < 0 || outSizeHint > maxAllocHint {
		outSizeHint = maxAllocHint
	}
	r := &bitReader{src: src}
	out := make([]byte, 0, outSizeHint)

	for {
		final, err := r.readBits(1)
		if err != nil {
			return nil, err
		}
		btype, err := r.readBits(2)
		if err != nil {
			return nil, err
		}

		switch btype {
		case 0: // stored
			r.alignToByte()
			if r.pos+4 > len(r.src) {
				return nil, ErrCorrupt
			}
			length := int(r.src[r.pos]) | int(r.src[r.pos+1])<<8
			nlength := int(r.src[r.pos+2]) | int(r.src[r.pos+3])<<8
			if length^0xFFFF != nlength {
				return nil, ErrCorrupt
			}
			r.pos += 4
			if r.pos+length > len(r.src) {
				return nil, ErrCorrupt
			}
			out = append(out, r.src[r.pos:r.pos+length]...)
			r.pos += length

		case 1: // fixed Huffman
			lit, dist := fixedTrees()
			if out, err = inflateBlock(r, lit, dist, out); err != nil {
				return nil, err
			}

		case 2: // dynamic Huffman
			lit, dist, err := readDynamicTrees(r)
			if err != nil {
				return nil, err
			}
			if out, err = inflateBlock(r, lit, dist, out); err != nil {
				return nil, err
			}

		default:
			return nil, ErrCorrupt
		}

		if final == 1 {
			break
		}
	}
	return out, nil
}

var fixedLit, fixedDist *huffTree

func fixedTrees() (*huffTree, *huffTree) {
	if fixedLit != nil {
		return fixedLit, fixedDist
	}
	litLens := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	distLens := make([]int, 30)
	for i := range distLens {
		distLens[i] = 5
	}
	fixedLit, _ = buildHuffTree(litLens)
	fixedDist, _ = buildHuffTree(distLens)
	return fixedLit, fixedDist
}

func readDynamicTrees(r *bitReader) (*huffTree, *huffTree, error) {
	hlit, err := r.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := r.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := r.readBits(4)
	if err != nil {
		return nil, nil, err
	}

	nlit := int(hlit) + 257
	ndist := int(hdist) + 1
	nclen := int(hclen) + 4

	clLens := make([]int, 19)
	for i := 0; i < nclen; i++ {
		v, err := r.readBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLens[codeLenOrder[i]] = int(v)
	}
	clTree, err := buildHuffTree(clLens)
	if err != nil {
		return nil, nil, err
	}

	allLens := make([]int, nlit+ndist)
	for i := 0; i < len(allLens); {
		sym, err := clTree.decode(r)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			allLens[i] = sym
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, ErrCorrupt
			}
			n, err := r.readBits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := allLens[i-1]
			for c := 0; c < int(n)+3; c++ {
				if i >= len(allLens) {
					return nil, nil, ErrCorrupt
				}
				allLens[i] = prev
				i++
			}
		case sym == 17:
			n, err := r.readBits(3)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 3
		case sym == 18:
			n, err := r.readBits(7)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 11
		default:
			return nil, nil, ErrCorrupt
		}
	}
	if len(allLens) < nlit+ndist {
		return nil, nil, ErrCorrupt
	}

	litTree, err := buildHuffTree(allLens[:nlit])
	if err != nil {
		return nil, nil, err
	}
	distTree, err := buildHuffTree(allLens[nlit : nlit+ndist])
	if err != nil {
		return nil, nil, err
	}
	return litTree, distTree, nil
}

func inflateBlock(r *bitReader, lit, dist *huffTree, out []byte) ([]byte, error) {
	for {
		sym, err := lit.decode(r)
		if err != nil {
			return nil, err
		}
		switch {
		case sym < 256:
			out = append(out, byte(sym))
		case sym == 256:
			return out, nil
		case sym <= 285:
			idx := sym - 257
			if int(idx) >= len(lengthBase) {
				return nil, ErrCorrupt
			}
			extra, err := r.readBits(uint(lengthExtra[idx]))
			if err != nil {
				return nil, err
			}
			length := int(lengthBase[idx]) + int(extra)

			dsym, err := dist.decode(r)
			if err != nil {
				return nil, err
			}
			if dsym >= len(distBase) {
				return nil, ErrCorrupt
			}
			dextra, err := r.readBits(uint(distExtra[dsym]))
			if err != nil {
				return nil, err
			}
			distance := int(distBase[dsym]) + int(dextra)

			start := len(out) - distance
			if start < 0 {
				return nil, ErrCorrupt
			}
			for i := 0; i < length; i++ {
				out = append(out, out[start+i])
			}
		default:
			return nil, ErrCorrupt
		}
	}
}
