package flow

import "github.com/BTreeMap/FunnelPipe/internal/models"

// Localized holds one text per language.
type Localized map[models.Language]string

// For returns the text for lang, falling back to English.
func (l Localized) For(lang models.Language) string {
	if s, ok := l[lang]; ok {
		return s
	}
	return l[models.LanguageEnglish]
}

// Content is the funnel copy and the media assets that go with it. Asset
// paths are relative to the media directory.
type Content struct {
	LanguagePrompt      string
	LanguagePromptImage string
	LanguageReminder    string

	Intro      Localized
	IntroShort Localized
	IntroVideo Localized

	DemoQuestion Localized
	DemoReminder Localized

	DemoDescription Localized
	DemoShort       Localized
	DemoVideo       string

	ContactDetailsImage string

	// Footer is appended to content deliveries; SpecialFooter is the contact details message.
	Footer        string
	SpecialFooter string
}

const footer = "\n\n━━━━━━━━━━━━━━━━━━━━━━━━━\n" +
	"🌐 Visit us: https://thestudentai.in\n" +
	"📸 Follow us on Instagram:@studentaisoftware\n" +
	"━━━━━━━━━━━━━━━━━━━━━━━━━"

const specialFooter = "\n\n📞 Need Help? Contact the Student AI Team!\n" +
	"For any questions or information about our features, plans, or support, feel free to reach out to our team.\n" +
	"📧 Email: studentaisoftware@gmail.com\n" +
	"📱 WhatsApp: +91 824775806 +91 9242107942\n" +
	"🌐 Website: www.thestudentai.in\n" +
	"📸 Instagram: @studentaisoftware\n" +
	"We're here to help you learn smarter and stress-free! 😊"

// DefaultContent returns the production funnel copy.
func DefaultContent() Content {
	return Content{
		LanguagePrompt: "Welcome to Student AI – India's First AI-Powered E-Learning Platform! 🚀\n\n" +
			"Which Language do you speak - Hindi or English?\n\n" +
			"• For English : Type \"1\" or \"English\"\n" +
			"• For Hindi : Type \"2\" or \"Hindi\" \n\n" +
			"Or simply type \"English\" or \"Hindi\"",
		LanguagePromptImage: "images/newlogo.jpg",
		LanguageReminder: "I am still waiting for your reply for preferred language.\n\n" +
			"• Type \"1\" or \"English\" for English\n" +
			"• Type \"2\" or \"Hindi\" for हिंदी\n\n" +
			"Or simply type \"English\" or \"Hindi\"",

		Intro: Localized{
			models.LanguageEnglish: "FREE FOR STUDENTS WITH UNLIMITED AI\n\n" +
				"✅Visit: https://thestudentai.in/\n" +
				"✅From your mobile\n" +
				"✅Click on FREE PLAN,\n" +
				"✅Sign in with GMAIL\n\n" +
				"Our Student AI helps 4th-12th class students with:\n\n" +
				"✅ Daily homework assistance\n" +
				"✅ Concept clarifications\n" +
				"✅ Covers all school subjects\n\n" +
				"Our team is ready to help you: SOWMYA - 8247765806\n\n" +
				"Thanks, Student AI Team",
			models.LanguageHindi: "छात्रों के लिए मुफ्त | अनलिमिटेड AI | लाइफटाइम\n\n" +
				"✅Visit: https://thestudentai.in/\n" +
				"✅अपने मोबाइल से,\n" +
				"✅FREE PLAN पर क्लिक करें,\n" +
				"✅GMAIL से साइन इन करें\n\n" +
				"नमस्ते! हमारा Student AI 4वीं-12वीं कक्षा के छात्रों की मदद करता है:\n\n" +
				"✅ रोजाना होमवर्क में सहायता\n" +
				"✅ कॉन्सेप्ट की स्पष्टता\n" +
				"✅ सभी स्कूली विषयों को कवर करता है\n\n" +
				"हमारी टीम आपकी मदद के लिए तैयार है: SOWMYA - 8247765806\n\n" +
				"Thanks, Student AI Team",
		},
		IntroShort: Localized{
			models.LanguageEnglish: "Student AI - FREE AI Tutor\nVisit: https://thestudentai.in/\nSOWMYA: 8247765806, RIYA: 9242107942",
			models.LanguageHindi:   "Student AI - मुफ्त AI ट्यूटर\nVisit: thestudentai.in\nSOWMYA: 8247765806, RIYA: 9242107942",
		},
		IntroVideo: Localized{
			models.LanguageEnglish: "videos/English Version _ Intro.mp4",
			models.LanguageHindi:   "videos/First Day_Followup_Riya_Hindi Version.mp4",
		},

		DemoQuestion: Localized{
			models.LanguageEnglish: "Do you want to see a demo? 🎥\n\n" +
				"• Type \"Yes\" to see a demo video\n" +
				"• Type \"No\" for website details and contact info\n\n" +
				"Or simply type \"Yes\" or \"No\"",
			models.LanguageHindi: "क्या आप डेमो देखना चाहते हैं? 🎥\n\n" +
				"• \"Yes\" टाइप करें डेमो वीडियो देखने के लिए\n" +
				"• \"No\" टाइप करें वेबसाइट डिटेल्स और संपर्क जानकारी के लिए\n\n" +
				"या सिर्फ \"Yes\" या \"No\" टाइप करें",
		},
		DemoReminder: Localized{
			models.LanguageEnglish: "I am still waiting for your reply about the demo.\n\n" +
				"• Type \"Yes\" to see a demo video\n" +
				"• Type \"No\" for website details and contact info",
			models.LanguageHindi: "मैं अभी भी डेमो के बारे में आपके जवाब का इंतज़ार कर रहा हूँ।\n\n" +
				"• \"Yes\" टाइप करें डेमो वीडियो देखने के लिए\n" +
				"• \"No\" टाइप करें वेबसाइट डिटेल्स के लिए",
		},

		DemoDescription: Localized{
			models.LanguageEnglish: "🎥 Here's your demo of Student AI!\n\n" +
				"See how our AI helps students with:\n" +
				"✅ Homework solutions\n" +
				"✅ Concept explanations\n" +
				"✅ Step-by-step learning\n" +
				"✅ All subjects covered\n\n" +
				"Ready to get started? Visit: https://thestudentai.in/\n" +
				"Contact our team: SOWMYA - 8247765806, RIYA - 9242107942",
			models.LanguageHindi: "🎥 यहाँ है Student AI का डेमो!\n\n" +
				"देखें कैसे हमारा AI छात्रों की मदद करता है:\n" +
				"✅ होमवर्क सॉल्यूशन\n" +
				"✅ कॉन्सेप्ट एक्सप्लेनेशन\n" +
				"✅ स्टेप-बाई-स्टेप लर्निंग\n" +
				"✅ सभी विषय कवर\n\n" +
				"शुरू करने के लिए तैयार? Visit: https://thestudentai.in/\n" +
				"हमारी टीम से संपर्क करें: SOWMYA - 8247765806, RIYA - 9242107942",
		},
		DemoShort: Localized{
			models.LanguageEnglish: "🎥 Student AI Demo\nVisit: https://thestudentai.in/\nSOWMYA: 8247765806, RIYA: 9242107942",
			models.LanguageHindi:   "🎥 Student AI डेमो\nVisit: thestudentai.in\nSOWMYA: 8247765806, RIYA: 9242107942",
		},
		DemoVideo: "videos/DemoVideo.mp4",

		ContactDetailsImage: "images/IfSayNo.png",

		Footer:        footer,
		SpecialFooter: specialFooter,
	}
}
