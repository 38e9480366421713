package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hati/internal/engine"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum message size")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ModifyOrder
	BookDepth
)

// Status codes carried on every response.
const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusNotFound   = 404
	StatusInternal   = 500
)

type ReportMessageType int

const (
	OrderAck ReportMessageType = iota
	CancelAck
	ModifyAck
	DepthReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants. All integers are big-endian; prices travel as
// float64 bits, uuids as their raw 16 bytes. Every request is framed by a
// 2-byte length prefix so the reader never depends on TCP segment
// boundaries: split frames are reassembled, coalesced frames read one at a
// time.
const (
	FrameHeaderLen       = 2                  // 2-byte payload length
	MaxMessageSize       = 4 * 1024           // Upper bound on one framed payload
	BaseMessageHeaderLen = 2                  // 2-byte message type
	NewOrderBodyLen      = 16 + 1 + 1 + 8 + 8 // security, type, side, price, qty
	CancelOrderBodyLen   = 16 + 16            // security, order
	ModifyOrderBodyLen   = 16 + 16 + 8 + 8    // security, order, price, qty
	BookDepthBodyLen     = 16 + 4             // security, level count

	// Response layout: 1-byte report type, 2-byte status, 4-byte cause
	// length, cause string, then a type-specific body.
	responseHeaderLen = 1 + 2 + 4
	orderAckBodyLen   = 16 + 1 + 1 + 8 + 8 + 2 // order, status, resting flag, price, remaining, fill count
	fillEntryLen      = 16 + 8 + 8             // counterparty order, price, qty
	cancelAckBodyLen  = 16 + 8                 // order, remaining
	modifyAckBodyLen  = 16 + 1 + 8 + 8 + 2     // order, status, price, remaining, fill count
	depthHeaderLen    = 2 + 2                  // bid count, ask count
	levelEntryLen     = 8 + 8                  // price, qty
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadMessage reads exactly one framed request off the stream. On a parse
// failure the returned message still carries the request type when the
// header was readable, so responses can be attributed to the right
// operation.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, FrameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return BaseMessage{}, err
	}

	length := binary.BigEndian.Uint16(header)
	if length > MaxMessageSize {
		return BaseMessage{}, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return BaseMessage{}, err
	}
	return parseMessage(payload)
}

// frame prefixes an encoded request with its payload length.
func frame(msg []byte) []byte {
	framed := make([]byte, FrameHeaderLen+len(msg))
	binary.BigEndian.PutUint16(framed[0:FrameHeaderLen], uint16(len(msg)))
	copy(framed[FrameHeaderLen:], msg)
	return framed
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("%w: no header", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case ModifyOrder:
		return parseModifyOrder(msg)
	case BookDepth:
		return parseBookDepth(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	SecurityID uuid.UUID        // 16 bytes
	OrderType  engine.OrderType // 1 byte
	Side       engine.Side      // 1 byte
	LimitPrice float64          // 8 bytes
	Quantity   uint64           // 8 bytes
}

// Request converts the wire message to an engine submission. The engine
// assigns the order id; the wire carries none.
func (m NewOrderMessage) Request() engine.NewOrder {
	return engine.NewOrder{
		SecurityID: m.SecurityID,
		Side:       m.Side,
		Type:       m.OrderType,
		Price:      decimal.NewFromFloat(m.LimitPrice),
		Quantity:   m.Quantity,
	}
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderBodyLen {
		return m, ErrMessageTooShort
	}
	copy(m.SecurityID[:], msg[0:16])
	m.OrderType = engine.OrderType(msg[16])
	m.Side = engine.Side(msg[17])
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[18:26]))
	m.Quantity = binary.BigEndian.Uint64(msg[26:34])
	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	SecurityID uuid.UUID // 16 bytes
	OrderID    uuid.UUID // 16 bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	if len(msg) < CancelOrderBodyLen {
		return m, ErrMessageTooShort
	}
	copy(m.SecurityID[:], msg[0:16])
	copy(m.OrderID[:], msg[16:32])
	return m, nil
}

type ModifyOrderMessage struct {
	BaseMessage
	SecurityID uuid.UUID // 16 bytes
	OrderID    uuid.UUID // 16 bytes
	NewPrice   float64   // 8 bytes
	NewQty     uint64    // 8 bytes
}

func parseModifyOrder(msg []byte) (ModifyOrderMessage, error) {
	m := ModifyOrderMessage{BaseMessage: BaseMessage{TypeOf: ModifyOrder}}
	if len(msg) < ModifyOrderBodyLen {
		return m, ErrMessageTooShort
	}
	copy(m.SecurityID[:], msg[0:16])
	copy(m.OrderID[:], msg[16:32])
	m.NewPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[32:40]))
	m.NewQty = binary.BigEndian.Uint64(msg[40:48])
	return m, nil
}

type BookDepthMessage struct {
	BaseMessage
	SecurityID uuid.UUID // 16 bytes
	LevelCount uint32    // 4 bytes
}

func parseBookDepth(msg []byte) (BookDepthMessage, error) {
	m := BookDepthMessage{BaseMessage: BaseMessage{TypeOf: BookDepth}}
	if len(msg) < BookDepthBodyLen {
		return m, ErrMessageTooShort
	}
	copy(m.SecurityID[:], msg[0:16])
	m.LevelCount = binary.BigEndian.Uint32(msg[16:20])
	return m, nil
}

// --- Request encoders (client side) ----------------------------------------

func EncodeNewOrder(securityID uuid.UUID, orderType engine.OrderType, side engine.Side, price float64, qty uint64) []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	copy(buf[2:18], securityID[:])
	buf[18] = byte(orderType)
	buf[19] = byte(side)
	binary.BigEndian.PutUint64(buf[20:28], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[28:36], qty)
	return frame(buf)
}

func EncodeCancelOrder(securityID, orderID uuid.UUID) []byte {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	copy(buf[2:18], securityID[:])
	copy(buf[18:34], orderID[:])
	return frame(buf)
}

func EncodeModifyOrder(securityID, orderID uuid.UUID, price float64, qty uint64) []byte {
	buf := make([]byte, BaseMessageHeaderLen+ModifyOrderBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(ModifyOrder))
	copy(buf[2:18], securityID[:])
	copy(buf[18:34], orderID[:])
	binary.BigEndian.PutUint64(buf[34:42], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[42:50], qty)
	return frame(buf)
}

func EncodeBookDepth(securityID uuid.UUID, levelCount uint32) []byte {
	buf := make([]byte, BaseMessageHeaderLen+BookDepthBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(BookDepth))
	copy(buf[2:18], securityID[:])
	binary.BigEndian.PutUint32(buf[18:22], levelCount)
	return frame(buf)
}

// --- Response encoding (server side) ----------------------------------------

// FillEntry is one execution as reported to the submitting party.
type FillEntry struct {
	Counterparty uuid.UUID
	Price        float64
	Quantity     uint64
}

// Response is the decoded form of every server reply. Only the fields
// relevant to its type are populated.
type Response struct {
	TypeOf    ReportMessageType
	Status    uint16
	Cause     string
	OrderID   uuid.UUID
	OrderStat engine.OrderStatus
	Resting   bool
	Price     float64
	Remaining uint64
	Fills     []FillEntry
	BidDepth  []DepthEntry
	AskDepth  []DepthEntry
}

type DepthEntry struct {
	Price    float64
	Quantity uint64
}

func responseHeader(typeOf ReportMessageType, status uint16, cause string, bodyLen int) []byte {
	buf := make([]byte, responseHeaderLen+len(cause)+bodyLen)
	buf[0] = byte(typeOf)
	binary.BigEndian.PutUint16(buf[1:3], status)
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(cause)))
	copy(buf[7:], cause)
	return buf
}

// encodeError carries a non-200 status and a cause string, no body.
func encodeError(typeOf ReportMessageType, status uint16, cause string) []byte {
	return responseHeader(typeOf, status, cause, 0)
}

// ackTypeOf maps a request type onto the report type answering it, so even
// rejections name the operation the client actually attempted.
func ackTypeOf(t MessageType) ReportMessageType {
	switch t {
	case CancelOrder:
		return CancelAck
	case ModifyOrder:
		return ModifyAck
	case BookDepth:
		return DepthReport
	default:
		return OrderAck
	}
}

func putFills(buf []byte, fills []FillEntry) {
	for i, f := range fills {
		off := i * fillEntryLen
		copy(buf[off:off+16], f.Counterparty[:])
		binary.BigEndian.PutUint64(buf[off+16:off+24], math.Float64bits(f.Price))
		binary.BigEndian.PutUint64(buf[off+24:off+32], f.Quantity)
	}
}

// fillEntries flips engine fills into the submitting party's view: the
// counterparty on an aggressor's report is the resting order.
func fillEntries(fills []engine.Fill) []FillEntry {
	entries := make([]FillEntry, len(fills))
	for i, f := range fills {
		entries[i] = FillEntry{
			Counterparty: f.RestingOrderID,
			Price:        f.Price.InexactFloat64(),
			Quantity:     f.Quantity,
		}
	}
	return entries
}

func encodeOrderAck(result engine.MatchResult) []byte {
	fills := fillEntries(result.Fills)
	buf := responseHeader(OrderAck, StatusOK, "", orderAckBodyLen+len(fills)*fillEntryLen)
	body := buf[responseHeaderLen:]

	copy(body[0:16], result.OrderID[:])
	body[16] = byte(result.Status)
	var price float64
	var remaining uint64
	if result.Resting != nil {
		body[17] = 1
		price = result.Resting.Price.InexactFloat64()
		remaining = result.Resting.Remaining
	}
	binary.BigEndian.PutUint64(body[18:26], math.Float64bits(price))
	binary.BigEndian.PutUint64(body[26:34], remaining)
	binary.BigEndian.PutUint16(body[34:36], uint16(len(fills)))
	putFills(body[orderAckBodyLen:], fills)
	return buf
}

func encodeCancelAck(result engine.CancelResult) []byte {
	buf := responseHeader(CancelAck, StatusOK, "", cancelAckBodyLen)
	body := buf[responseHeaderLen:]
	copy(body[0:16], result.OrderID[:])
	binary.BigEndian.PutUint64(body[16:24], result.Remaining)
	return buf
}

func encodeModifyAck(result engine.ModifyResult) []byte {
	var fills []FillEntry
	if result.Match != nil {
		fills = fillEntries(result.Match.Fills)
	}
	buf := responseHeader(ModifyAck, StatusOK, "", modifyAckBodyLen+len(fills)*fillEntryLen)
	body := buf[responseHeaderLen:]

	copy(body[0:16], result.OrderID[:])
	body[16] = byte(result.Status)
	binary.BigEndian.PutUint64(body[17:25], math.Float64bits(result.Price.InexactFloat64()))
	binary.BigEndian.PutUint64(body[25:33], result.Remaining)
	binary.BigEndian.PutUint16(body[33:35], uint16(len(fills)))
	putFills(body[modifyAckBodyLen:], fills)
	return buf
}

func encodeDepthReport(depth engine.BookDepth) []byte {
	bodyLen := depthHeaderLen + (len(depth.Bids)+len(depth.Asks))*levelEntryLen
	buf := responseHeader(DepthReport, StatusOK, "", bodyLen)
	body := buf[responseHeaderLen:]

	binary.BigEndian.PutUint16(body[0:2], uint16(len(depth.Bids)))
	binary.BigEndian.PutUint16(body[2:4], uint16(len(depth.Asks)))
	off := depthHeaderLen
	for _, levels := range [][]engine.LevelDepth{depth.Bids, depth.Asks} {
		for _, l := range levels {
			binary.BigEndian.PutUint64(body[off:off+8], math.Float64bits(l.Price.InexactFloat64()))
			binary.BigEndian.PutUint64(body[off+8:off+16], l.Quantity)
			off += levelEntryLen
		}
	}
	return buf
}

// --- Response decoding (client side) ----------------------------------------

// ParseResponse reads exactly one server reply off the stream.
func ParseResponse(r io.Reader) (Response, error) {
	header := make([]byte, responseHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Response{}, err
	}

	resp := Response{
		TypeOf: ReportMessageType(header[0]),
		Status: binary.BigEndian.Uint16(header[1:3]),
	}
	causeLen := binary.BigEndian.Uint32(header[3:7])
	if causeLen > 0 {
		cause := make([]byte, causeLen)
		if _, err := io.ReadFull(r, cause); err != nil {
			return Response{}, err
		}
		resp.Cause = string(cause)
	}
	if resp.Status != StatusOK {
		return resp, nil
	}

	switch resp.TypeOf {
	case OrderAck:
		return parseOrderAck(r, resp)
	case CancelAck:
		return parseCancelAck(r, resp)
	case ModifyAck:
		return parseModifyAck(r, resp)
	case DepthReport:
		return parseDepthReport(r, resp)
	default:
		return Response{}, ErrInvalidMessageType
	}
}

func readFills(r io.Reader, count uint16) ([]FillEntry, error) {
	if count == 0 {
		return nil, nil
	}
	buf := make([]byte, int(count)*fillEntryLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	fills := make([]FillEntry, count)
	for i := range fills {
		off := i * fillEntryLen
		copy(fills[i].Counterparty[:], buf[off:off+16])
		fills[i].Price = math.Float64frombits(binary.BigEndian.Uint64(buf[off+16 : off+24]))
		fills[i].Quantity = binary.BigEndian.Uint64(buf[off+24 : off+32])
	}
	return fills, nil
}

func parseOrderAck(r io.Reader, resp Response) (Response, error) {
	body := make([]byte, orderAckBodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Response{}, err
	}
	copy(resp.OrderID[:], body[0:16])
	resp.OrderStat = engine.OrderStatus(body[16])
	resp.Resting = body[17] == 1
	resp.Price = math.Float64frombits(binary.BigEndian.Uint64(body[18:26]))
	resp.Remaining = binary.BigEndian.Uint64(body[26:34])

	fills, err := readFills(r, binary.BigEndian.Uint16(body[34:36]))
	if err != nil {
		return Response{}, err
	}
	resp.Fills = fills
	return resp, nil
}

func parseCancelAck(r io.Reader, resp Response) (Response, error) {
	body := make([]byte, cancelAckBodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Response{}, err
	}
	copy(resp.OrderID[:], body[0:16])
	resp.Remaining = binary.BigEndian.Uint64(body[16:24])
	return resp, nil
}

func parseModifyAck(r io.Reader, resp Response) (Response, error) {
	body := make([]byte, modifyAckBodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Response{}, err
	}
	copy(resp.OrderID[:], body[0:16])
	resp.OrderStat = engine.OrderStatus(body[16])
	resp.Price = math.Float64frombits(binary.BigEndian.Uint64(body[17:25]))
	resp.Remaining = binary.BigEndian.Uint64(body[25:33])

	fills, err := readFills(r, binary.BigEndian.Uint16(body[33:35]))
	if err != nil {
		return Response{}, err
	}
	resp.Fills = fills
	return resp, nil
}

func parseDepthReport(r io.Reader, resp Response) (Response, error) {
	header := make([]byte, depthHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Response{}, err
	}
	bidCount := binary.BigEndian.Uint16(header[0:2])
	askCount := binary.BigEndian.Uint16(header[2:4])

	buf := make([]byte, (int(bidCount)+int(askCount))*levelEntryLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Response{}, err
	}
	levels := make([]DepthEntry, bidCount+askCount)
	for i := range levels {
		off := i * levelEntryLen
		levels[i].Price = math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
		levels[i].Quantity = binary.BigEndian.Uint64(buf[off+8 : off+16])
	}
	resp.BidDepth = levels[:bidCount]
	resp.AskDepth = levels[bidCount:]
	return resp, nil
}
