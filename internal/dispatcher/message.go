package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"edufocus-notify/internal/models"
)

const whatsappSuffix = "@s.whatsapp.net"

// FormatRecipient 电话号码 → WhatsApp JID。
// 去掉非数字字符，没有国家区号时补上（巴西 55），再拼接 JID 后缀。
func FormatRecipient(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits + whatsappSuffix
}

// 葡语日期名（通知文案按学校所在地葡语展示）
var ptWeekdays = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

var ptMonths = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

func ptLongDate(t time.Time) string {
	return fmt.Sprintf("%s, %02d de %s de %d",
		ptWeekdays[t.Weekday()], t.Day(), ptMonths[t.Month()-1], t.Year())
}

// ArrivalMessage 入校通知文案
func ArrivalMessage(schoolName, studentName, className string, at time.Time) string {
	classLine := ""
	if className != "" {
		classLine = fmt.Sprintf("📚 *Turma:* %s\n", className)
	}

	return fmt.Sprintf(`╔═══════════════════════════
║  🎓 *%s*
╚═══════════════════════════

✅ *CHEGADA CONFIRMADA*

👤 *Aluno:* %s
%s
📅 *%s*
🕐 *%s*

━━━━━━━━━━━━━━━━━━━━━━━
Seu filho(a) chegou com segurança! 😊`,
		schoolName, studentName, classLine, ptLongDate(at), at.Format("15:04"))
}

// DepartureMessage 离校通知文案
func DepartureMessage(schoolName, studentName, className string, at time.Time) string {
	classLine := ""
	if className != "" {
		classLine = fmt.Sprintf("📚 Turma: %s\n", className)
	}

	return fmt.Sprintf("🏠 *Notificação de Saída - %s*\n\n"+
		"Olá! Seu(a) filho(a) *%s* saiu da escola.\n\n"+
		"%s"+
		"📅 Data: %s\n"+
		"🕐 Horário: %s\n\n"+
		"_Mensagem automática do sistema %s_",
		schoolName, studentName, classLine,
		at.Format("02/01/2006"), at.Format("15:04"), schoolName)
}

// pushBody 监护人App推送正文（短文案）
func pushBody(studentName, notificationType string) string {
	if notificationType == models.NotificationDeparture {
		return fmt.Sprintf("%s saiu da escola.", studentName)
	}
	return fmt.Sprintf("%s chegou à escola com segurança.", studentName)
}
