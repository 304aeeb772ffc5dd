package dmk

import (
	"context"
	"fmt"

	"signer-core/pkg/apdu"
)

const (
	P1FirstChunk byte = 0x00
	P1NextChunk  byte = 0x80
)

// SendChunked 按 255 字节分块发送同一条指令: 首块 P1=00，后续 P1=80。
// 任一块失败立即返回，成功时返回最后一块的应答。
func SendChunked(ctx context.Context, ex Exchanger, cla, ins byte, payload []byte) (apdu.Response, error) {
	var resp apdu.Response
	for i, chunk := range apdu.Chunk(payload, apdu.MaxDataLength) {
		p1 := P1FirstChunk
		if i > 0 {
			p1 = P1NextChunk
		}
		var err error
		resp, err = ex.Exchange(ctx, apdu.Command{CLA: cla, INS: ins, P1: p1, Data: chunk})
		if err != nil {
			return apdu.Response{}, err
		}
		if err := resp.Err(); err != nil {
			return apdu.Response{}, fmt.Errorf("chunk %d of ins 0x%02x: %w", i, ins, err)
		}
	}
	return resp, nil
}
