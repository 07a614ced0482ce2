package bot

// Canned user-facing replies. All strings are user-visible Thai product copy;
// do not reword without product sign-off.
const (
	carbonCreditPrompt = "กรุณาตอบคำถามเพื่อคำนวณคาร์บอนเครดิต:\n" +
		"1. จำนวนที่ดินกี่ไร่?\n" +
		"2. อายุเก็บเกี่ยวข้าวในฤดูเพาะปลูก?\nตัวอย่าง\n5 ไร่, 120 วัน"

	carbonCreditFormatError = "ข้อมูลไม่ถูกต้อง\nโปรดถามอีกครั้ง\nกรุณาตอบตามรูปแบบนี้:\n" +
		"จำนวนที่ดิน (ไร่), อายุเก็บเกี่ยวข้าว (วัน)\n" +
		"ตัวอย่าง: 5 ไร่, 120 วัน"

	recommendationPrompt = "ผมมีข้อมูลเรื่องนาและสภาพอากาศบริเวณของคุณอยู่แล้ว\n" +
		"มีข้อมูลอะไรที่ต้องการเพิ่มเติมให้ผมไหมครับ " +
		"เช่น ข้อมูลเรื่องปุ๋ยที่คุณใช้ในวันนี้หรือข้อมูลอื่นๆในช่วงเวลาที่ผ่านมาหรือขนาดพื้นที่"

	waterDataPrompt = "กรุณาพิมพ์ชื่อจังหวัดเพื่อรับข่าวน้ำวันนี้\nตัวอย่าง: สุพรรณบุรี, นครราชสีมา"

	provinceNotFoundReply = "ไม่พบข้อมูลจังหวัด กรุณาลองใหม่อีกครั้งและระบุชื่อจังหวัดให้ถูกต้อง"

	noNewsReply = "ไม่พบข่าวสารใหม่สำหรับวันนี้ ลองอีกครั้งในภายหลัง"

	newsHeader = "ข่าวสำหรับชาวนาไทยวันนี้:\n"

	overviewHeader = "ข้อมูลรายงานสถานการณ์นาและสิ่งแวดล้อม:\n"

	farmNewsQuery = "ข่าววันนี้สำหรับชาวนาไทย"
)
