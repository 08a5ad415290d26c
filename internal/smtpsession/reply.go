package smtpsession

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"mailprobe/internal/verdict"
)

var enhancedCodePattern = regexp.MustCompile(`^\d\.\d\.\d$`)

// readReply reads a possibly multi-line SMTP reply from r. A line
// ends the reply when it is shorter than 4 bytes or its 4th byte is
// not '-'. The reply code comes from the first three digits of the
// last line; the enhanced code, if present, is the last line's second
// whitespace-separated token when it matches \d.\d.\d.
func readReply(r *bufio.Reader) (verdict.SmtpReply, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return verdict.SmtpReply{Code: -1}, err
		}
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}
	return parseReplyLines(lines), nil
}

// parseReplyLines turns the raw wire lines of one reply into an
// SmtpReply. Kept as a standalone helper so the parsing rules can
// be unit tested without a live socket.
func parseReplyLines(lines []string) verdict.SmtpReply {
	if len(lines) == 0 {
		return verdict.SmtpReply{Code: -1, Text: ""}
	}
	last := lines[len(lines)-1]
	text := strings.Join(lines, "\n")

	code := -1
	if len(last) >= 3 {
		if n, err := fmt.Sscanf(last[:3], "%d", &code); err != nil || n != 1 {
			code = -1
		}
	}

	var enhanced string
	fields := strings.Fields(last)
	if len(fields) >= 2 && enhancedCodePattern.MatchString(fields[1]) {
		enhanced = fields[1]
	}

	return verdict.SmtpReply{Code: code, EnhancedCode: enhanced, Text: text}
}
