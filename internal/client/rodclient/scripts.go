package rodclient

// WebURL is the messaging web app every session loads
const WebURL = "https://web.whatsapp.com/"

// snapshotJS reports the connection state, the pairing code, loading
// progress and drains the queue filled by hookJS
const snapshotJS = `() => {
	const store = window.Store;
	const qrEl = document.querySelector('div[data-ref]');
	const progress = document.querySelector('progress');
	let state = store && store.AppState ? store.AppState.state : '';
	if (!state) {
		if (document.querySelector('#pane-side')) state = 'CONNECTED';
		else if (qrEl) state = 'UNPAIRED';
		else state = 'OPENING';
	}
	const queue = window.__waQueue || [];
	window.__waQueue = [];
	return {
		state: state,
		qr: qrEl ? (qrEl.getAttribute('data-ref') || '') : '',
		loading: progress ? (Number(progress.value) || 0) : 0,
		events: queue,
	};
}`

// hookJS subscribes once to the store collections and queues their events
const hookJS = `() => {
	const store = window.Store;
	if (window.__waHooked) return true;
	if (!store || !store.Msg) return false;
	window.__waQueue = window.__waQueue || [];
	const ser = (m) => ({
		id: { id: m.id.id, _serialized: m.id._serialized, fromMe: m.id.fromMe, remote: m.id.remote && m.id.remote._serialized },
		from: m.from && m.from._serialized,
		to: m.to && m.to._serialized,
		author: m.author && m.author._serialized,
		body: m.body || '',
		type: m.type,
		hasMedia: !!(m.mediaData || m.directPath),
		timestamp: m.t,
		ack: m.ack,
	});
	const push = (name, m, args) => window.__waQueue.push({ name: name, message: m ? ser(m) : null, args: args || {} });
	store.Msg.on('add', (m) => {
		if (!m.isNewMsg) return;
		push('message_create', m);
		if (!m.id.fromMe) push('message', m);
	});
	store.Msg.on('change:ack', (m, ack) => push('message_ack', m, { ack: ack }));
	store.Msg.on('change:body', (m, body, prev) => push('message_edit', m, { newBody: body, prevBody: prev }));
	window.__waHooked = true;
	return true;
}`

// stateJS returns the protocol state or throws before the store exists
const stateJS = `() => {
	if (!window.Store || !window.Store.AppState) throw new Error('store not ready');
	return window.Store.AppState.state;
}`

const logoutJS = `async () => {
	if (window.Store && window.Store.AppState && window.Store.AppState.logout) {
		await window.Store.AppState.logout();
	}
	return true;
}`

// fetchMessagesJS loads the most recent messages of a chat, oldest first
const fetchMessagesJS = `async (chatId, limit) => {
	const chat = window.Store.Chat.get(chatId);
	if (!chat) throw new Error('chat not found');
	const msgs = chat.msgs.getModelsArray().slice(-limit);
	return msgs.map((m) => ({
		id: { id: m.id.id, _serialized: m.id._serialized, fromMe: m.id.fromMe },
		chatId: chatId,
		from: m.from && m.from._serialized,
		to: m.to && m.to._serialized,
		body: m.body || '',
		type: m.type,
		hasMedia: !!(m.mediaData || m.directPath),
		timestamp: m.t,
		ack: m.ack,
	}));
}`

const sendSeenJS = `async (chatId) => {
	const chat = window.Store.Chat.get(chatId);
	if (!chat) return false;
	await window.Store.SendSeen.sendSeen(chat, false);
	return true;
}`

const downloadMediaJS = `async (msgId) => {
	const msg = window.Store.Msg.get(msgId);
	if (!msg || !msg.mediaData) throw new Error('media not found');
	if (msg.mediaData.mediaStage !== 'RESOLVED') {
		await msg.downloadMedia({ downloadEvenIfExpensive: true, rmrReason: 1 });
	}
	const blob = await window.Store.DownloadManager.downloadAndMaybeDecrypt({
		directPath: msg.directPath,
		encFilehash: msg.encFilehash,
		filehash: msg.filehash,
		mediaKey: msg.mediaKey,
		mediaKeyTimestamp: msg.mediaKeyTimestamp,
		type: msg.type,
		signal: (new AbortController()).signal,
	});
	const bytes = new Uint8Array(blob);
	let bin = '';
	for (let i = 0; i < bytes.length; i++) bin += String.fromCharCode(bytes[i]);
	return { mimetype: msg.mimetype, data: btoa(bin), filename: msg.filename || '', filesize: msg.size || bytes.length };
}`
