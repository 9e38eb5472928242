package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Tile payload framing, before compression:
//
//	magic "DBT1" | zoom int32 | pos int32 | shape[0] uint32 | shape[1] uint32 | dense float64...
//
// All integers and floats are little-endian.
var tileMagic = [4]byte{'D', 'B', 'T', '1'}

const tileHeaderSize = 4 + 4*4

var errBadPayload = errors.New("malformed cached tile payload")

func encodeTile(td deltabar.TileData) []byte {
	buf := make([]byte, 0, tileHeaderSize+8*len(td.Dense))
	buf = append(buf, tileMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(td.Zoom)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(td.Pos)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(td.Shape[0]))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(td.Shape[1]))
	for _, v := range td.Dense {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeTile(b []byte) (deltabar.TileData, error) {
	if len(b) < tileHeaderSize || [4]byte(b[:4]) != tileMagic {
		return deltabar.TileData{}, errBadPayload
	}
	td := deltabar.TileData{
		Zoom: int(int32(binary.LittleEndian.Uint32(b[4:]))),
		Pos:  int(int32(binary.LittleEndian.Uint32(b[8:]))),
		Shape: [2]int{
			int(binary.LittleEndian.Uint32(b[12:])),
			int(binary.LittleEndian.Uint32(b[16:])),
		},
	}
	body := b[tileHeaderSize:]
	if len(body)%8 != 0 {
		return deltabar.TileData{}, fmt.Errorf("%w: body of %d bytes", errBadPayload, len(body))
	}
	td.Dense = make([]float64, len(body)/8)
	for i := range td.Dense {
		td.Dense[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return td, nil
}
