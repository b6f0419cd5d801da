package callback

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ricochet.sh/internal/correlation"
	"ricochet.sh/internal/ferrors"
	"ricochet.sh/internal/metrics"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/store"
)

const (
	dnsHeaderSize = 12
	qtypeA        = 1
	qclassIN      = 1
	// responseFlags is QR=1, opcode=0, AA=1, TC=0, RD=1, RA=1, Z=0, RCODE=0,
	// matching the original implementation's authoritative-but-recursion-
	// available posture for every reply it sends.
	responseFlags = 0x8580
)

// DNSServer answers UDP queries against the out-of-band DNS callback
// listener. It parses just enough of the DNS wire format to pull the
// correlation id out of the query name and synthesize an A-record pointing
// at 127.0.0.1, so any resolver that queries it believes the lookup
// succeeded.
type DNSServer struct {
	store   *store.Store
	logger  *observability.Logger
	conn    *net.UDPConn
	timeout time.Duration
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewDNSServer binds addr (host:port) for UDP and returns a server ready to
// Serve. socketTimeout bounds each ReadFromUDP call so Serve can notice
// shutdown promptly instead of blocking forever on an idle socket.
func NewDNSServer(addr string, st *store.Store, logger *observability.Logger, socketTimeout time.Duration) (*DNSServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &DNSServer{store: st, logger: logger, conn: conn, timeout: socketTimeout}, nil
}

// Serve reads and answers queries until ctx is cancelled or Shutdown is
// called.
func (s *DNSServer) Serve(ctx context.Context) error {
	buf := make([]byte, 512)
	for {
		if s.closing.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.closing.Load() {
				return nil
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleQuery(data, clientAddr)
		}()
	}
}

// Shutdown closes the listening socket and waits for in-flight queries to
// finish.
func (s *DNSServer) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	err := s.conn.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (s *DNSServer) handleQuery(data []byte, clientAddr *net.UDPAddr) {
	start := time.Now()
	if len(data) < dnsHeaderSize {
		s.logger.Debug("DNS query too short to contain a header")
		return
	}

	txnID := binary.BigEndian.Uint16(data[:2])
	qname, qtype, _, ok := parseQuestion(data, dnsHeaderSize)

	sourceIP := clientAddr.IP.String()

	if !ok {
		response := buildResponse(data, txnID, "", 0)
		s.send(response, clientAddr)
		return
	}

	correlationID := extractCorrelationIDFromQName(qname)
	if correlationID != "" {
		recorded, err := s.store.RecordCallback(context.Background(), correlationID, sourceIP, "DNS:"+qname, map[string]string{"qtype": strconv.Itoa(qtype)}, nil)
		switch {
		case err != nil:
			s.logger.WithError(err).Error("failed to record DNS callback")
			metrics.RecordError("callback_dns", string(ferrors.GetCode(err)))
		case recorded:
			s.logger.WithCallback("DNS", sourceIP, correlationID).Info("recorded callback")
			metrics.RecordCallback("DNS", true, time.Since(start).Seconds())
		default:
			s.logger.WithCallback("DNS", sourceIP, correlationID).Debug("callback for unknown correlation id")
			metrics.RecordCallback("DNS", false, time.Since(start).Seconds())
		}
	} else {
		s.logger.Debug("DNS query with no correlation id in qname", zap.String("qname", qname))
		metrics.RecordCallback("DNS", false, time.Since(start).Seconds())
	}

	response := buildResponse(data, txnID, qname, qtype)
	s.send(response, clientAddr)
}

func (s *DNSServer) send(response []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(response, addr); err != nil {
		s.logger.WithError(err).Error("failed to send DNS response")
	}
}

// parseQuestion reads the QNAME, QTYPE, and the offset immediately after
// the question section (QTYPE+QCLASS), starting at offset. It stops at the
// first compression pointer or zero-length label without following it,
// since every query this server needs to answer names itself in full.
func parseQuestion(data []byte, offset int) (qname string, qtype int, end int, ok bool) {
	pos := offset
	var labels []string

	for {
		if pos >= len(data) {
			return "", 0, offset, false
		}
		length := int(data[pos])

		if length&0xC0 == 0xC0 {
			pos += 2
			break
		}
		if length == 0 {
			pos++
			break
		}
		pos++
		if pos+length > len(data) {
			return "", 0, offset, false
		}
		labels = append(labels, string(data[pos:pos+length]))
		pos += length
	}

	if len(labels) == 0 {
		return "", 0, offset, false
	}
	qname = strings.Join(labels, ".")

	if pos+2 > len(data) {
		return qname, 0, pos, true
	}
	qtype = int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 4 // skip QTYPE + QCLASS

	return qname, qtype, pos, true
}

// extractCorrelationIDFromQName takes the first label of qname and
// validates it as a correlation id.
func extractCorrelationIDFromQName(qname string) string {
	if qname == "" {
		return ""
	}
	first := strings.SplitN(qname, ".", 2)[0]
	if correlation.Valid(first) {
		return first
	}
	return ""
}

// findQuestionEnd re-scans the question section of the original query to
// find the byte offset immediately after it, so the question can be echoed
// back verbatim in the response.
func findQuestionEnd(data []byte) int {
	pos := dnsHeaderSize
	for {
		if pos >= len(data) {
			return len(data)
		}
		length := int(data[pos])
		if length&0xC0 == 0xC0 {
			pos += 2
			break
		}
		if length == 0 {
			pos++
			break
		}
		pos += 1 + length
	}
	return pos + 4
}

// buildResponse constructs a DNS reply for a query with the given
// transaction id. If qtype is QTYPE_A and qname is non-empty, the response
// includes one answer RR pointing qname at 127.0.0.1 with a 60-second TTL;
// otherwise it echoes the question with zero answers.
func buildResponse(query []byte, txnID uint16, qname string, qtype int) []byte {
	header := make([]byte, 12)
	binary.BigEndian.PutUint16(header[0:2], txnID)
	binary.BigEndian.PutUint16(header[2:4], responseFlags)
	binary.BigEndian.PutUint16(header[4:6], 1) // QDCOUNT

	questionEnd := findQuestionEnd(query)
	var question []byte
	if questionEnd <= len(query) && questionEnd > dnsHeaderSize {
		question = query[dnsHeaderSize:questionEnd]
	}

	if qtype == qtypeA && qname != "" {
		binary.BigEndian.PutUint16(header[6:8], 1) // ANCOUNT
		binary.BigEndian.PutUint16(header[8:10], 0)
		binary.BigEndian.PutUint16(header[10:12], 0)

		answer := make([]byte, 0, 16)
		nameBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(nameBuf, 0xC00C) // pointer to offset 12
		answer = append(answer, nameBuf...)

		typeClassTTL := make([]byte, 10)
		binary.BigEndian.PutUint16(typeClassTTL[0:2], qtypeA)
		binary.BigEndian.PutUint16(typeClassTTL[2:4], qclassIN)
		binary.BigEndian.PutUint32(typeClassTTL[4:8], 60)
		binary.BigEndian.PutUint16(typeClassTTL[8:10], 4)
		answer = append(answer, typeClassTTL...)
		answer = append(answer, 127, 0, 0, 1)

		out := make([]byte, 0, len(header)+len(question)+len(answer))
		out = append(out, header...)
		out = append(out, question...)
		out = append(out, answer...)
		return out
	}

	binary.BigEndian.PutUint16(header[6:8], 0) // ANCOUNT
	binary.BigEndian.PutUint16(header[8:10], 0)
	binary.BigEndian.PutUint16(header[10:12], 0)

	out := make([]byte, 0, len(header)+len(question))
	out = append(out, header...)
	out = append(out, question...)
	return out
}
